package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"trajtrack-core/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "config/tracking.json", "Tracking config JSON (empty for defaults)")
		iface    = flag.String("iface", "", "SocketCAN interface name, overrides the config")
		mapPath  = flag.String("map", "", "Path to the CAN map CSV, overrides the config")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical")
		listen   = flag.String("http", "", "HTTP listen address, overrides the config")
		dbPath   = flag.String("db", "", "SQLite run recorder path, overrides the config")
	)
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		_, _ = os.Stderr.WriteString("WARN: .env: " + err.Error() + "\n")
	}

	cfg, err := LoadConfig(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config: " + err.Error() + "\n")
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.CAN.Interface = *iface
		case "map":
			cfg.CAN.MapPath = *mapPath
		case "log":
			cfg.Log.Level = *logLevel
		case "http":
			cfg.HTTP.Listen = *listen
		case "db":
			cfg.Recorder.Path = *dbPath
		}
	})
	if err := cfg.Validate(); err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := utils.NewFileLogger(cfg.Log.File, utils.ParseLevel(cfg.Log.Level), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.Log.File + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}

	runErr := runner.Run(ctx)
	if err := runner.Close(); err != nil {
		log.Error("Close: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Critical("Run failed: %v", runErr)
		os.Exit(1)
	}
}
