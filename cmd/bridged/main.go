package main

import (
	"context"

	"github.com/joho/godotenv"

	"bridged/internal/app"
	"bridged/pkg/config"
	"bridged/pkg/logger"
	"bridged/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Resolve config path (file flag wins over env)
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		logger.InitWithLevel("")
		shutdown.Abort("failed to load config", err, "")
	}

	logger.InitWithLevel(cfg.Logging.Level)

	// Flags win over env, env over file.
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = dbVal
	}
	source := "config"
	if envUsed {
		source = "env"
	}
	if setFlags["addr"] || setFlags["db"] {
		source = "flags"
	}
	eff := config.EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, dbPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, dbPath)
	}
	logger.Info("server_stopped")
}
