package dynamo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/dynamo"
)

func TestNewClientWithEndpoint(t *testing.T) {
	ctx := context.Background()

	// Local DynamoDB, as the session store is wired in development.
	client, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: "http://localhost:4566",
		Region:   "us-east-2",
		Timeout:  5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, client.DB)
}

func TestNewClientWithDefaultEndpoint(t *testing.T) {
	ctx := context.Background()

	client, err := dynamo.NewClient(ctx, dynamo.Config{
		Region:  "us-east-2",
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, client.DB)
}

func TestMarshalMapSessionKey(t *testing.T) {
	// The session store keys items by session_id alone.
	av, err := dynamo.MarshalMap(map[string]string{"session_id": "sess-1"})
	require.NoError(t, err)

	key, ok := av["session_id"].(*dynamo.AttributeValueMemberS)
	require.True(t, ok, "session_id must marshal as a string attribute")
	assert.Equal(t, "sess-1", key.Value)
}
