package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/boq"
	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/compliance"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/extract"
	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/pipeline"
	"github.com/terrametric/carbon-cli/internal/resilience"
	"github.com/terrametric/carbon-cli/internal/store"
	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

// env holds the wired application components shared by the commands.
type env struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Pipeline *pipeline.Pipeline
	Queue    *events.Queue
	Checker  *compliance.Checker
}

// openStore opens the configured backend and applies migrations. The DDL
// is idempotent, so every command can call this safely.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// catalogForState narrows a snapshot to the entries applicable to one
// state: nationally-scoped entries plus that state's own. An empty
// state keeps everything.
func catalogForState(materials []model.ReferenceMaterial, state string) *catalog.Catalog {
	cat := catalog.New(materials)
	if state == "" {
		return cat
	}
	return catalog.New(cat.FilterState(state))
}

// initEnv wires the full import pipeline: store, catalog snapshot,
// Anthropic client, event queue and compliance checker. A non-empty
// state restricts the catalog snapshot to that state's entries.
func initEnv(ctx context.Context, state string) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	// The catalog load retries transient store failures.
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("store", "all_materials")
	materials, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.ReferenceMaterial, error) {
		return st.AllMaterials(ctx)
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "load material catalog")
	}
	cat := catalogForState(materials, state)
	if cat.Len() == 0 {
		zap.L().Warn("material catalog is empty; run 'carbon-cli materials load' first")
	}

	if cfg.Anthropic.Key == "" {
		st.Close() //nolint:errcheck
		return nil, eris.New("anthropic.key is not configured")
	}
	ai := anthropic.NewClient(cfg.Anthropic.Key)

	queue := events.NewQueue(256,
		events.NewLogSink(zap.L()),
		events.NewStoreSink(st),
	)

	docs := extract.New(ai, extract.Options{
		MaxFileBytes:    cfg.Import.MaxFileBytes,
		MinPDFTextChars: cfg.Import.MinPDFTextChars,
		DocumentModel:   cfg.Anthropic.DocumentModel,
		MaxOutputTokens: cfg.Anthropic.MaxOutputToken,
	})
	boqx := boq.NewExtractor(ai, boq.Options{
		Model:     cfg.Anthropic.ExtractModel,
		MaxTokens: cfg.Anthropic.MaxOutputToken,
	})
	pipe := pipeline.New(docs, boqx, cat, queue, pipeline.Options{
		ChunkSize:         cfg.Import.ChunkSize,
		SamplePerCategory: cfg.Import.SamplePerCategory,
		ChunkDelay:        time.Duration(cfg.Import.ChunkDelayMillis) * time.Millisecond,
	})

	checker, err := compliance.New()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "load compliance standards")
	}

	return &env{
		Store:    st,
		Catalog:  cat,
		Pipeline: pipe,
		Queue:    queue,
		Checker:  checker,
	}, nil
}

// Close drains the event queue and closes the store.
func (e *env) Close() {
	if e.Queue != nil {
		e.Queue.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close failed", zap.Error(err))
		}
	}
}
