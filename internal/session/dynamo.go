// Package session persists server-side sessions in DynamoDB. The gateway
// only reads them; they are written by the login flow and by ops tooling.
package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/dynamo"
)

var tracer = otel.Tracer("session")

// Compile-time check: Store satisfies auth.SessionStore.
var _ auth.SessionStore = (*Store)(nil)

// sessionDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the session store. The *dynamodb.Client satisfies
// this interface.
type sessionDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
}

// sessionItem is the DynamoDB item shape for the sessions table.
type sessionItem struct {
	SessionID string `dynamodbav:"session_id"`
	UserID    string `dynamodbav:"user_id"`
	Name      string `dynamodbav:"name"`
	Admin     bool   `dynamodbav:"admin"`
	Tier      string `dynamodbav:"tier"`
	CreatedAt int64  `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
	TTL       int64  `dynamodbav:"ttl"`
}

func toSessionItem(r auth.SessionRecord) sessionItem {
	item := sessionItem{
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Name:      r.Name,
		Admin:     r.Admin,
		Tier:      r.Tier,
		CreatedAt: r.CreatedAt.UTC().UnixMilli(),
	}
	if !r.ExpiresAt.IsZero() {
		item.ExpiresAt = r.ExpiresAt.UTC().UnixMilli()
		item.TTL = r.ExpiresAt.UTC().Unix()
	}
	return item
}

func fromSessionItem(item sessionItem) *auth.SessionRecord {
	rec := &auth.SessionRecord{
		SessionID: item.SessionID,
		UserID:    item.UserID,
		Name:      item.Name,
		Admin:     item.Admin,
		Tier:      item.Tier,
		CreatedAt: domain.FromMillis(item.CreatedAt),
	}
	if item.ExpiresAt != 0 {
		rec.ExpiresAt = domain.FromMillis(item.ExpiresAt)
	}
	return rec
}

// Store reads and writes session records in DynamoDB.
type Store struct {
	db        sessionDynamoDB
	tableName string
}

// NewStore creates a Store backed by the given DynamoDB client.
// The table name is configurable because different deployments share one
// account with per-environment tables.
func NewStore(db sessionDynamoDB, tableName string) *Store {
	return &Store{db: db, tableName: tableName}
}

// GetByID retrieves a session record by session ID using a strongly
// consistent read. Returns domain.ErrNotFound when no session exists.
// Expiry is not checked here - the gate owns that decision, against its
// own clock.
func (s *Store) GetByID(ctx context.Context, sessionID string) (*auth.SessionRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.get_by_id")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"session_id": &dynamo.AttributeValueMemberS{Value: sessionID},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("session store: get by id: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("session store: get by id: %w", domain.ErrNotFound)
	}

	var item sessionItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("session store: unmarshal session: %w", err)
	}

	return fromSessionItem(item), nil
}

// Put writes a session record, replacing any existing session with the
// same ID.
func (s *Store) Put(ctx context.Context, rec auth.SessionRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.put")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(toSessionItem(rec))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("session store: marshal session: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("session store: put: %w", err)
	}

	return nil
}

// Delete removes a session record. Deleting a missing session is not an
// error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "DeleteItem"),
	)

	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"session_id": &dynamo.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("session store: delete: %w", err)
	}

	return nil
}
