package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/adapter/document"
	"github.com/queryorch/orchestrator/internal/adapter/relational"
	"github.com/queryorch/orchestrator/internal/adapter/saas"
	"github.com/queryorch/orchestrator/internal/adapter/vector"
	"github.com/queryorch/orchestrator/internal/adapterreg"
	"github.com/queryorch/orchestrator/internal/aggregator"
	"github.com/queryorch/orchestrator/internal/classifier"
	"github.com/queryorch/orchestrator/internal/classifier/modelgateway"
	"github.com/queryorch/orchestrator/internal/config"
	"github.com/queryorch/orchestrator/internal/executor"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
	"github.com/queryorch/orchestrator/internal/planner"
	"github.com/queryorch/orchestrator/internal/service"
	"github.com/queryorch/orchestrator/internal/sessionstore"
	"github.com/queryorch/orchestrator/internal/sessionstore/inmem"
	sessionmongo "github.com/queryorch/orchestrator/internal/sessionstore/mongo"
	"github.com/queryorch/orchestrator/internal/sourcereg"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

// app bundles the constructed orchestrator plus everything that needs an
// orderly Close on shutdown.
type app struct {
	svc      *service.Service
	sources  *sourcereg.Registry
	httpAddr string
	closers  []func(context.Context)
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

// buildApp loads configuration and wires every C1-C8 component into a
// running Service, the composition cmd/orchestrator's serve command runs
// (the ask command is an HTTP client of a running server).
func buildApp(ctx context.Context, configPath, envPath string) (*app, error) {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()
	a := &app{httpAddr: cfg.HTTPAddr}

	adapters := make(map[string]adapter.Adapter, len(cfg.Sources))
	sources := make([]model.Source, 0, len(cfg.Sources))
	reg := adapterreg.New(nil)

	for _, sc := range cfg.Sources {
		impl, err := buildAdapter(ctx, sc, a)
		if err != nil {
			return nil, fmt.Errorf("build adapter for source %q: %w", sc.ID, err)
		}
		reg.Set(sc.ID, impl)
		adapters[sc.ID] = impl

		summary, err := impl.Introspect(ctx)
		if err != nil {
			return nil, fmt.Errorf("introspect source %q: %w", sc.ID, err)
		}
		caps := make(map[model.Capability]bool, len(sc.Capabilities))
		for _, c := range sc.Capabilities {
			caps[model.Capability(c)] = true
		}
		sources = append(sources, model.Source{
			ID:            sc.ID,
			Kind:          model.SourceKind(sc.Kind),
			URI:           sc.URI,
			SchemaSummary: summary,
			Caps:          caps,
		})
	}

	sourceRegistry, err := sourcereg.New(ctx, sourcereg.Config{
		Sources: sources,
		Name:    cfg.RegistryID,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create source registry: %w", err)
	}
	a.sources = sourceRegistry
	a.closers = append(a.closers, func(context.Context) { sourceRegistry.Close() })

	completer, err := modelgateway.New(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("create model gateway: %w", err)
	}

	clsfr := classifier.NewWithTelemetry(sourceRegistry, completer, logger, tracer, metrics)
	plnr := planner.New(sourceRegistry)
	agg := aggregator.New()

	execCfg := executor.Config{
		MaxParallelism: cfg.Executor.MaxParallelism,
		PerSourceRPS:   cfg.Executor.PerSourceRPS,
		PerSourceBurst: cfg.Executor.PerSourceBurst,
		MaxAttempts:    cfg.Executor.MaxAttempts,
		InitialBackoff: cfg.Executor.InitialBackoff,
		MaxBackoff:     cfg.Executor.MaxBackoff,
		CancelGrace:    cfg.Executor.CancelGrace(),
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	}
	exec := executor.New(reg, agg, execCfg)

	sessions, err := buildSessionStore(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	a.svc = service.New(service.Deps{
		Classifier: clsfr,
		Planner:    plnr,
		Executor:   exec,
		Aggregator: agg,
		Sessions:   sessions,
		Logger:     logger,
	})
	return a, nil
}

func buildSessionStore(ctx context.Context, cfg config.Config, a *app) (sessionstore.Store, error) {
	if cfg.Mongo.URI == "" {
		return inmem.New(), nil
	}
	client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.closers = append(a.closers, func(closeCtx context.Context) { _ = client.Disconnect(closeCtx) })
	store, err := sessionmongo.New(ctx, sessionmongo.Options{
		Client:     client,
		Database:   cfg.Mongo.Database,
		Collection: "sessions",
		Timeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create mongo session store: %w", err)
	}
	return store, nil
}

// buildAdapter constructs the adapter implementation for one configured
// source. Only relational and document sources are fully config-driven
// (a pgx pool or mongo database plus a pass-through translator is
// everything their constructors need); a vector source reads no options
// and starts with an empty in-process index and the hashEmbedder; saas
// sources read their REST endpoint settings from SourceConfig.Options.
func buildAdapter(ctx context.Context, sc config.SourceConfig, a *app) (adapter.Adapter, error) {
	switch model.SourceKind(sc.Kind) {
	case model.SourceKindRelational:
		pool, err := pgxpool.New(ctx, sc.URI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
		return relational.New(sc.ID, pool, nil), nil

	case model.SourceKindDocument:
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(sc.URI))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(closeCtx context.Context) { _ = client.Disconnect(closeCtx) })
		dbName := sc.Options["database"]
		if dbName == "" {
			dbName = sc.ID
		}
		return document.New(sc.ID, client.Database(dbName), nil), nil

	case model.SourceKindVector:
		return vector.New(sc.ID, vector.NewIndex(nil), hashEmbedder{}), nil

	case model.SourceKindMessaging, model.SourceKindCommerce, model.SourceKindAnalytics:
		endpoints := saas.Endpoints{
			BaseURL:    sc.URI,
			SchemaPath: sc.Options["schema_path"],
			AuthHeader: sc.Options["auth_header"],
			AuthValue:  sc.Options["auth_value"],
		}
		translator := templateSaaSTranslator{
			path:      sc.Options["query_path"],
			rowsField: sc.Options["rows_field"],
		}
		return saas.New(sc.ID, &http.Client{Timeout: 30 * time.Second}, endpoints, translator), nil

	default:
		return nil, orcherrors.Newf(orcherrors.ConfigInvalid, "source %q has unknown kind %q", sc.ID, sc.Kind)
	}
}

// templateSaaSTranslator answers every question with the same configured
// endpoint; installations targeting a real SaaS product supply a
// question-aware saas.Translator instead (the package's opaque-translate
// boundary, spec §1).
type templateSaaSTranslator struct {
	path      string
	rowsField string
}

func (t templateSaaSTranslator) Translate(_ context.Context, _ string, _ model.SchemaSummary) (string, map[string]string, string, error) {
	return t.path, nil, t.rowsField, nil
}

// hashEmbedder is a deterministic stand-in embedder: the retrieval pack
// carries no vector-embedding client, so a config-driven vector source
// gets a hash-based vector rather than no vector at all. Installations
// with real embeddings supply a model-backed vector.Embedder.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	const dims = 16
	out := make([]float64, dims)
	h := uint32(2166136261)
	for i, c := range []byte(text) {
		h ^= uint32(c)
		h *= 16777619
		out[i%dims] += float64(h%997) / 997.0
	}
	return out, nil
}
