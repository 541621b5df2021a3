// Package main is the entrypoint for the stream gateway service: WebSocket
// connection handling, room subscriptions, and broadcast fan-out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/backplane"
	"github.com/tradeforge/stream-gateway/internal/config"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/dynamo"
	"github.com/tradeforge/stream-gateway/internal/emit"
	"github.com/tradeforge/stream-gateway/internal/gateway"
	"github.com/tradeforge/stream-gateway/internal/ratelimit"
	redisclient "github.com/tradeforge/stream-gateway/internal/redis"
	"github.com/tradeforge/stream-gateway/internal/server"
	"github.com/tradeforge/stream-gateway/internal/session"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "gateway",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Gateway.HTTPPort },
		Setup:          setup,
	}, nil)
}

// setup wires the gateway's collaborators and mounts its routes. Redis being
// unreachable is survivable (single-instance degradation); the session store
// failing to construct is not, because session credentials could then never
// be validated.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, mux *http.ServeMux) (func(context.Context), error) {
	clock := domain.RealClock{}

	validator := auth.NewValidator(auth.ValidatorConfig{
		Secret:            cfg.Auth.SigningSecret,
		Issuer:            cfg.Auth.Issuer,
		Audience:          cfg.Auth.Audience,
		RequireAccessType: cfg.Auth.RequireAccessType,
		Clock:             clock,
	})

	dynClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb client: %w", err)
	}
	sessions := session.NewStore(dynClient.DB, cfg.Auth.SessionTable)

	gate := auth.NewGate(auth.GateConfig{
		Validator:      validator,
		Sessions:       sessions,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		Clock:          clock,
	})

	// Counting backends: shared Redis when configured, in-process otherwise.
	var (
		store  ratelimit.Store
		budget ratelimit.Budget
		bp     backplane.Backplane
		rc     *redisclient.Client
	)
	if cfg.Redis.Addr != "" {
		rc = redisclient.NewClient(redisclient.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		store = ratelimit.NewRedisStore(rc.RDB)
		budget = ratelimit.NewRedisBudget(rc.RDB)
		bp = backplane.NewRedis(rc, logger)
	} else {
		logger.Warn("no redis configured, running single-instance")
		local := ratelimit.NewLocalStore(clock)
		local.StartSweeper(ctx, domain.ConnectionRateLimitWindow)
		store = local
		budget = ratelimit.NewLocalBudget()
		bp = backplane.NewMemory()
	}

	gw := gateway.New(gateway.Config{
		Gate: gate,
		ConnLimiter: ratelimit.NewPolicy("connections", store,
			cfg.RateLimit.ConnectionsPerAddress, cfg.RateLimit.ConnectionWindow, logger),
		EventLimiter: ratelimit.NewPolicy("events", store,
			cfg.RateLimit.EventsPerIdentity, cfg.RateLimit.EventWindow, logger),
		Budget:        ratelimit.NewBudgetPolicy(budget, cfg.RateLimit.SubscriptionBudget, logger),
		Backplane:     bp,
		Logger:        logger,
		Clock:         clock,
		ShutdownGrace: cfg.Gateway.ShutdownGrace,
	})
	if err := gw.Start(ctx); err != nil {
		return nil, fmt.Errorf("start gateway: %w", err)
	}

	emitter := emit.New(gw, clock)

	mux.Handle("/ws", gateway.NewWSHandler(gw, cfg.Gateway.AllowedOrigins, logger))
	mux.Handle("/internal/emit/", emit.NewHandler(emitter, logger))
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats := gw.Stats()
		fmt.Fprintf(w, `{"connections":%d,"authenticatedConnections":%d,"rooms":%d,"uptimeSeconds":%d}`,
			stats.Connections, stats.Authenticated, stats.Rooms, stats.UptimeSeconds)
	})

	drain := func(ctx context.Context) {
		gw.Shutdown(ctx)
		if rc != nil {
			if cerr := rc.Close(); cerr != nil {
				logger.Error("closing redis", slog.String("error", cerr.Error()))
			}
		}
	}
	return drain, nil
}
