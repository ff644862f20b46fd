package nakama

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"partylog/internal/app/coordinator"
	"partylog/internal/app/session"
	"partylog/internal/config"
	"partylog/internal/ports"
	"partylog/internal/ports/memory"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule wires RPCs and session hooks for Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	cfg, err := loadConfig(logger, env)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg, nk, logger)
	if err != nil {
		return err
	}
	if err := RegisterRPCs(initializer, NewScopeRPCs(registry)); err != nil {
		return err
	}
	if err := RegisterHooks(initializer, NewSessionHooks(registry)); err != nil {
		return err
	}

	logger.Info("Partylog subscriptions module loaded (store=%s, collection=%s).", cfg.Store, cfg.Collection)
	return nil
}

func loadConfig(logger runtime.Logger, env map[string]string) (config.Config, error) {
	path := config.DefaultPath
	if p := env[config.EnvConfigPath]; p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("Failed to load subscription config %s: %v", path, err)
			return cfg, err
		}
		logger.Warn("Subscription config %s not found, using defaults", path)
	}
	cfg, err = cfg.ApplyEnv(env)
	if err != nil {
		logger.Error("Invalid subscription config overrides: %v", err)
		return cfg, err
	}
	return cfg, nil
}

func newRegistry(cfg config.Config, nk StorageAPI, logger runtime.Logger) (*session.Registry, error) {
	var store ports.SubscriptionStore
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory subscription store; lists are lost on restart")
		store = memory.NewStore()
	default:
		store = NewNakamaStorageAdapter(nk, cfg.Collection, cfg.MaxConflictRetries)
	}
	opts := coordinator.Options{CommitTimeout: cfg.CommitTimeout}
	return session.NewRegistry(cfg.MaxSessions, func(s coordinator.Session) *coordinator.Coordinator {
		return coordinator.New(s, store, logger, opts)
	}, logger)
}
