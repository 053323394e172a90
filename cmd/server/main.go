// SwiftRamp - human-verified crypto to fiat trading
package main

import (
	"context"
	"os"

	"github.com/swiftramp/swiftramp/internal/config"
	"github.com/swiftramp/swiftramp/internal/logging"
	"github.com/swiftramp/swiftramp/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting swiftramp",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"trade_ttl", cfg.TradeTTL,
		"default_admin", cfg.DefaultAdminID,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
