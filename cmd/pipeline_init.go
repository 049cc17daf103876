package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/assess"
	"github.com/shamrock-bonds/lead-pipeline/internal/history"
	"github.com/shamrock-bonds/lead-pipeline/internal/lifecycle"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/notify"
	"github.com/shamrock-bonds/lead-pipeline/internal/pipeline"
	"github.com/shamrock-bonds/lead-pipeline/internal/scorer"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
	"github.com/shamrock-bonds/lead-pipeline/internal/validate"
	anthropicpkg "github.com/shamrock-bonds/lead-pipeline/pkg/anthropic"
	"github.com/shamrock-bonds/lead-pipeline/pkg/notion"
)

// pipelineEnv holds the initialized store, machine, and pipeline shared by
// the ingest/serve/sweep commands.
type pipelineEnv struct {
	Store    store.Store
	Machine  *lifecycle.Machine
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, oracle, sinks, and registries, and builds
// the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	counties, err := initCounties()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	validator := validate.New(counties, time.Now)
	sc := scorer.New(cfg.Scoring)

	// Escalation is optional: without an API key Warm leads route on the
	// deterministic score alone.
	var escalator *assess.Escalator
	if cfg.Anthropic.Key != "" {
		aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		oracle := assess.NewAnthropicOracle(aiClient, cfg.Anthropic)
		escalator = assess.New(oracle, cfg.Escalator, cfg.Anthropic.MaxTokens)
	} else {
		zap.L().Warn("anthropic key not set, risk escalation disabled")
	}

	var sink lifecycle.IntakeSink
	if cfg.Intake.NotionToken != "" && cfg.Intake.QueueDB != "" {
		notionClient := notion.NewClient(cfg.Intake.NotionToken)
		sink = notion.NewIntakeQueue(notionClient, cfg.Intake.QueueDB)
	} else {
		zap.L().Warn("notion intake queue not configured, qualified leads stay local")
	}

	var matcher *history.Matcher
	if cfg.History.BondBookPath != "" {
		ledger, err := history.LoadBondBook(cfg.History.BondBookPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load bond book")
		}
		matcher = history.NewMatcher(ledger)
	}

	dispatcher := notify.FromConfig(cfg.Notify)
	machine := lifecycle.New(st, sc, sink, dispatcher)
	p := pipeline.New(st, validator, sc, escalator, machine, matcher, cfg.Ingest)

	return &pipelineEnv{
		Store:    st,
		Machine:  machine,
		Pipeline: p,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCounties loads the jurisdiction registry, falling back to the built-in
// Florida counties when no registry file is configured.
func initCounties() (*model.CountyRegistry, error) {
	if cfg.Counties.Path == "" {
		return model.NewCountyRegistry(model.DefaultCounties()), nil
	}
	reg, err := model.LoadCountyRegistry(cfg.Counties.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load county registry")
	}
	zap.L().Info("county registry loaded",
		zap.String("path", cfg.Counties.Path),
		zap.Int("counties", reg.Size()),
	)
	return reg, nil
}
