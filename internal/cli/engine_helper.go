package cli

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/tstore/tstore-desktop/internal/config"
	"github.com/tstore/tstore-desktop/internal/core"
	"github.com/tstore/tstore-desktop/internal/logging"
	"github.com/tstore/tstore-desktop/internal/operations"
)

// loadClientConfig reads --config, or the default client.ini.
func loadClientConfig() (*config.ClientConfig, error) {
	path := cfgFile
	if path == "" {
		var err error
		path, err = config.DefaultClientConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.LoadClientConfig(path)
}

// startEngine loads preferences, connects to the backend and loads the file
// list. The caller must stop the returned engine.
func startEngine(ctx context.Context) (*core.Engine, error) {
	log := GetLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	if !debugRequested() {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	if cfg.Logging.File {
		if err := config.EnsureLogDirectory(); err != nil {
			log.Warn().Err(err).Msg("Log directory unavailable; file logging disabled")
		} else {
			log.EnableFileOutput(config.LogFilePath())
		}
	}

	socket := socketPath
	if socket == "" {
		socket = cfg.Backend.SocketPath
	}
	backend := newBackend(socket, cfg.RequestTimeout(), log.Component("ipc"))

	engine, err := core.NewEngine(backend, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		engine.Stop()
		return nil, err
	}
	return engine, nil
}

func stopEngine(engine *core.Engine) {
	log := GetLogger()
	if err := engine.Stop(); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
	if err := log.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close log file")
	}
}

// outcomeError summarizes a bulk result; nil when everything succeeded.
func outcomeError(verb string, outcomes []operations.Outcome) error {
	failed := operations.Failed(outcomes)
	if len(failed) == 0 {
		return nil
	}
	rejected := lo.CountBy(failed, func(o operations.Outcome) bool { return o.Rejected })
	if rejected > 0 {
		return fmt.Errorf("%s: %d of %d failed (%d already in progress)", verb, len(failed), len(outcomes), rejected)
	}
	return fmt.Errorf("%s: %d of %d failed", verb, len(failed), len(outcomes))
}
