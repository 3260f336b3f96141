package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	audithook "github.com/eclipse-edc/Connector-sub001/audit_hook"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/engine"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/negotiation"
	"github.com/eclipse-edc/Connector-sub001/policy"
	"github.com/eclipse-edc/Connector-sub001/policymonitor"
	"github.com/eclipse-edc/Connector-sub001/store"
	"github.com/eclipse-edc/Connector-sub001/store/memory"
	"github.com/eclipse-edc/Connector-sub001/store/mongo"
	"github.com/eclipse-edc/Connector-sub001/store/postgres"
	redisstore "github.com/eclipse-edc/Connector-sub001/store/redis"
	"github.com/eclipse-edc/Connector-sub001/store/sqlite"
	"github.com/eclipse-edc/Connector-sub001/transfer"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	return level, nil
}

// newLogger builds the root logger from cfg, writing to w.
func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// openStore connects the configured backend. The store is not migrated.
func openStore(ctx context.Context, cfg StoreConfig, c clock.Clock, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(memory.WithClock(c)), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN, sqlite.WithClock(c), sqlite.WithLogger(logger))
	case "postgres":
		return postgres.New(ctx, cfg.DSN, postgres.WithClock(c), postgres.WithLogger(logger))
	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return &ownedRedis{
			Store:  redisstore.New(client, redisstore.WithClock(c), redisstore.WithLogger(logger)),
			client: client,
		}, nil
	case "mongo":
		return mongo.Connect(ctx, cfg.DSN, cfg.Database, mongo.WithClock(c), mongo.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ownedRedis closes the client the binary created for the redis store.
type ownedRedis struct {
	*redisstore.Store
	client *goredis.Client
}

func (o *ownedRedis) Close() error { return o.client.Close() }

// newDispatcher builds the protocol registry with the HTTP dispatcher.
func newDispatcher(cfg DispatchConfig, logger *slog.Logger) *dispatcher.Registry {
	limiter := dispatcher.NewLimiter(dispatcher.Limit{
		Rate:        cfg.Rate,
		Burst:       cfg.Burst,
		MaxInFlight: cfg.MaxInFlight,
	})
	httpd := dispatcher.NewHTTPDispatcher(
		dispatcher.WithTimeout(cfg.Timeout),
		dispatcher.WithMaxTries(cfg.MaxTries),
		dispatcher.WithRetryInterval(cfg.RetryInitial, cfg.RetryMax),
		dispatcher.WithLimiter(limiter),
		dispatcher.WithLogger(logger),
	)

	reg := dispatcher.NewRegistry()
	reg.Register(cfg.Protocol, httpd)
	return reg
}

// registerModules wires the negotiation, transfer and policy monitor state
// machines into reg.
func registerModules(reg *handler.Registry, cfg Config, s store.Store, c clock.Clock, logger *slog.Logger) {
	d := newDispatcher(cfg.Dispatch, logger)
	evaluator := policy.NewExpressionEvaluator(policy.WithClock(c), policy.WithLogger(logger))

	negotiation.Register(reg, negotiation.Deps{
		Dispatcher: d,
		Evaluator:  evaluator,
		Logger:     logger,
	})
	transfer.Register(reg, transfer.Deps{
		Dispatcher:    d,
		CheckInterval: cfg.Transfer.CheckInterval,
		Logger:        logger,
	})
	policymonitor.Register(reg, policymonitor.Deps{
		Transfers:  s,
		Dispatcher: d,
		Evaluator:  evaluator,
		Interval:   cfg.PolicyMonitor.Interval,
		Logger:     logger,
	})
}

// buildEngine composes the engine on s with every connector module and the
// audit extension registered.
func buildEngine(cfg Config, s store.Store, logger *slog.Logger, opts ...engine.Option) (*engine.Engine, error) {
	c := clock.Real{}
	opts = append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(c),
		engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger),
			audithook.WithLogger(logger),
			audithook.WithMetadata("service", cfg.Telemetry.ServiceName),
		)),
	}, opts...)

	eng, err := engine.New(cfg.Engine, s, opts...)
	if err != nil {
		return nil, err
	}
	registerModules(eng.Registry(), cfg, s, c, logger)
	return eng, nil
}

// setupTracing installs an OTLP/HTTP span exporter when an endpoint is
// configured. The returned shutdown flushes pending spans.
func setupTracing(ctx context.Context, cfg TelemetryConfig) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, func(context.Context) error { return nil }, nil
	}

	var opts []otlptracehttp.Option
	if strings.Contains(cfg.OTLPEndpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	return tp, tp.Shutdown, nil
}
