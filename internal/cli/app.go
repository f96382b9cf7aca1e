package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/InvictusSEO/vibephp/internal/agents"
	"github.com/InvictusSEO/vibephp/internal/ai"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/execution"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/preview"
	"github.com/InvictusSEO/vibephp/internal/session"
	"github.com/InvictusSEO/vibephp/internal/versions"
)

// app holds the long-lived collaborators shared by serve and build.
type app struct {
	cfg      *config.Config
	manager  *agents.Manager
	executor *execution.Client
	redis    *session.RedisStore
	db       *gorm.DB
}

type appOptions struct {
	autoConfirm bool
	preview     bool
	onPreview   func(workspaceID string, st preview.State)
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	log := logging.Named("app")
	a := &app{cfg: cfg}

	client := ai.NewClient(cfg.AI)
	a.executor = execution.NewClient(cfg.Executor, cfg.Agent.ReservedFiles)

	var store session.Store
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL, session.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		a.redis = rs
		store = rs
		log.Info("session ids shared through redis")
	}

	var persister versions.Persister
	if cfg.VersionsDSN != "" {
		db, err := versions.OpenDatabase(cfg.VersionsDSN)
		if err != nil {
			a.close()
			return nil, err
		}
		a.db = db
		p, err := versions.NewGormPersister(db)
		if err != nil {
			a.close()
			return nil, err
		}
		persister = p
		log.Info("version history persisted")
	}

	deps := agents.ManagerDeps{
		Config:      cfg,
		Generator:   ai.NewGenerator(client, cfg.Agent.ReservedFiles, cfg.AI.HistoryWindow),
		Fixer:       ai.NewFixer(client),
		Verifier:    a.executor,
		Sessions:    session.NewManager(store),
		Persister:   persister,
		AutoConfirm: opts.autoConfirm,
		OnPreview:   opts.onPreview,
	}
	if opts.preview {
		deps.PreviewTarget = a.executor
	}
	a.manager = agents.NewManager(deps)

	log.Info("agent ready",
		zap.String("model", client.Model()),
		zap.String("executor", cfg.Executor.URL),
		zap.Int("max_fix_attempts", cfg.Agent.MaxFixAttempts))
	return a, nil
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.L().Warn("shutdown", zap.Error(err))
	}
}

