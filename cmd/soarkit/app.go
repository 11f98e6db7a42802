package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/soarkit/internal/blobs"
	"github.com/rendis/soarkit/internal/events"
	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/internal/interaction"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/resolver"
	"github.com/rendis/soarkit/internal/scheduler"
	"github.com/rendis/soarkit/internal/secrets"
	"github.com/rendis/soarkit/internal/state"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/internal/trigger"
	"github.com/rendis/soarkit/internal/validation"
	"github.com/rendis/soarkit/pkg/schema"
)

// app is the wired component graph shared by the CLI commands.
type app struct {
	cfg         Config
	fns         expressions.Functions
	logger      *slog.Logger
	store       *store.LibSQLStore
	metrics     *metrics.Recorder
	vault       secrets.Vault // nil when no vault key is configured
	blobs       *blobs.Service
	engine      *expressions.Renderer
	resolver    *resolver.Resolver
	filter      *expressions.CELFilter
	validator   *validation.JSONSchemaValidator
	trigger     *trigger.StoreTrigger
	events      *events.Service
	interaction *interaction.Service
	scheduler   *scheduler.Scheduler
}

// openApp opens the store, applies migrations and wires every component.
// Logs go to logOut.
func openApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, cfg.LogLevel)

	dbDir := filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:"))
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		logger.Warn("cannot create database dir", slog.String("dir", dbDir), slog.String("error", err.Error()))
	}
	st, err := store.NewLibSQLStore(cfg.dbURI())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}

	fns := expressions.Functions{DeniedEnv: cfg.DeniedEnv}
	a.blobs = blobs.NewService(st, logger)
	fns.Blobs = a.blobs
	if cfg.VaultKey != "" {
		v, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultKey,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.vault = v
		fns.Secrets = secrets.NewParameterStore(v, logger)
	}

	a.fns = fns
	a.engine = expressions.NewRenderer(fns)
	a.resolver = resolver.New(a.engine, logger).WithMetrics(a.metrics)

	if a.filter, err = expressions.NewCELFilter(); err != nil {
		_ = st.Close()
		return nil, err
	}
	if a.validator, err = validation.NewJSONSchemaValidator(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.trigger = trigger.NewStoreTrigger(st, trigger.Config{
		PlaybookPrefix: cfg.PlaybookPrefix,
		TokenTTL:       cfg.tokenTTL(),
	}, logger)
	a.events = events.NewService(events.Deps{
		Events:     st,
		Dedup:      st,
		Executions: st,
		Audit:      st,
		Trigger:    a.trigger,
		Filter:     a.filter,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	a.interaction = interaction.NewService(interaction.Deps{
		Messages:   st,
		Executions: st,
		Trigger:    a.trigger,
		Audit:      st,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	a.scheduler = scheduler.NewScheduler(st, a.events, a.metrics, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// requireVault returns the vault or a VAULT_ERROR naming the missing setting.
func (a *app) requireVault() (secrets.Vault, error) {
	if a.vault == nil {
		return nil, schema.NewError(schema.ErrCodeVault, "no vault key configured (set SOARKIT_VAULT_KEY or vault_key)")
	}
	return a.vault, nil
}

func (a *app) functions() expressions.Functions { return a.fns }

func (a *app) stateDeps() state.Deps {
	return state.Deps{
		Executions: a.store,
		Resolver:   a.resolver,
		Audit:      a.store,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}
}

// readBatch reads a batch document, validates it against the batch schema
// and decodes it.
func (a *app) readBatch(path string, stdin io.Reader) (schema.EventBatch, error) {
	var batch schema.EventBatch
	doc, err := readDocument(path, stdin)
	if err != nil {
		return batch, err
	}
	if err := a.validator.ValidateBatch(doc); err != nil {
		return batch, err
	}
	if err := decodeInto(doc, &batch); err != nil {
		return batch, schema.NewError(schema.ErrCodeValidation, "batch does not match the event batch shape").WithCause(err)
	}
	return batch, nil
}
