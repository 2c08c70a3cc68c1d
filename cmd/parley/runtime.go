// ABOUTME: Builds the store, backend adapters and chat engine from config
// ABOUTME: Shared by serve and the interactive commands

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dify"
	"github.com/2389/parley/internal/model"
	"github.com/2389/parley/internal/store"
)

// runtime holds everything a command needs to talk to backends.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
	engine *chat.Engine
}

// openRuntime opens the database, restores the persisted selection and seeds
// configured apps.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	st, err := store.NewSQLiteStoreWithDriver(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	difyClient := dify.NewClient(cfg.Hosted.BaseURL,
		dify.WithTimeout(cfg.Hosted.Timeout),
		dify.WithLogger(logger),
	)
	modelClient := model.NewClient(model.Config{
		BaseURL:      cfg.Model.BaseURL,
		APIKey:       cfg.Model.APIKey,
		DefaultModel: cfg.Model.DefaultModel,
		TitleModel:   cfg.Model.TitleModel,
		TitleTimeout: cfg.Model.TitleTimeout,
	}, logger)

	engine := chat.NewEngine(chat.Options{
		Store: st,
		Backends: map[store.Kind]chat.Backend{
			store.KindHosted:      chat.NewHostedBackend(difyClient, cfg.Hosted.User),
			store.KindDirectModel: chat.NewLocalBackend(st, modelClient, modelClient),
		},
		AllowEmptyCredential: modelClient.HasDefaultKey(),
		Logger:               logger,
	})

	rt := &runtime{cfg: cfg, logger: logger, store: st, engine: engine}

	// Restore first: seeding only activates an app when nothing was restored.
	if err := engine.Restore(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("restoring selection: %w", err)
	}
	if err := rt.seedApps(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// seedApps adds the apps listed in config. Existing IDs are left untouched.
func (rt *runtime) seedApps(ctx context.Context) error {
	for _, ac := range rt.cfg.Apps {
		app := &store.App{
			ID:           ac.ID,
			Name:         ac.Name,
			Icon:         ac.Icon,
			Kind:         store.Kind(ac.Kind),
			Credential:   ac.Credential,
			Model:        ac.Model,
			SystemPrompt: ac.SystemPrompt,
		}
		err := rt.engine.AddApp(ctx, app)
		if errors.Is(err, store.ErrDuplicateApp) {
			rt.logger.Debug("configured app already present", "app_id", ac.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding app %q: %w", ac.Name, err)
		}
	}
	return nil
}

// Close waits for background work and closes the database.
func (rt *runtime) Close() {
	rt.engine.Wait()
	rt.engine.Events().Close()
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("closing database", "error", err)
	}
}
