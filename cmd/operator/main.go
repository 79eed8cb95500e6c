// Command operator serves the zkML proving API.
//
// The operator accepts prove and verify requests over HTTP and runs the
// external proving tool (ezkl) once per request. Only one prove or verify
// operation runs at a time; the rest queue up to server.max_pending and are
// shed with 503 beyond that.
//
// # Configuration File
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	  request_timeout: 600s
//	  metrics_addr: ":9090"
//	public:
//	  models: /srv/models              # one directory per model: vk.key, settings.json
//	  binfile: /usr/local/bin/ezkl
//	database:
//	  driver: postgres                 # memory (default), postgres or mysql
//	  host: localhost
//	  user: zkml
//	  password: secret
//	log:
//	  level: info
//	  format: json
//	  file: logs/operator.log
//
// # Usage
//
//	go run ./cmd/operator -c config.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flashbots/zkml-operator/api/handlers"
	"github.com/flashbots/zkml-operator/api/httpserver"
	"github.com/flashbots/zkml-operator/config"
	"github.com/flashbots/zkml-operator/metrics"
	"github.com/flashbots/zkml-operator/operator"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	flags := pflag.NewFlagSet("operator", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to YAML config file")
	flags.Parse(os.Args[1:])

	if *configPath == "" {
		fmt.Println("Please exec: operator -h for help info.")
		flags.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog := newLogger(&cfg.Log)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Operator failed", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("Start zkml operator", "models", cfg.Public.Models, "binfile", cfg.Public.Binfile)

	history, err := newHistory(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening operation history: %w", err)
	}
	defer history.Close()

	state := operator.NewState(cfg)
	metrics.RegisterAdmissionGauge(state.Waiting)

	svc := operator.NewService(
		state,
		operator.NewExecRunner(log),
		operator.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		history,
		log,
	)

	srv := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Addr(),
		MetricsAddr:              cfg.Server.MetricsAddr,
		EnablePprof:              cfg.Server.EnablePprof,
		Log:                      log,
		CORSOrigins:              cfg.Server.CORSOrigins,
		RequestTimeout:           cfg.Server.RequestTimeout,
		DrainDuration:            cfg.Server.DrainDuration,
		GracefulShutdownDuration: cfg.Server.GracefulShutdown,
		ReadTimeout:              cfg.Server.ReadTimeout,
		WriteTimeout:             cfg.EffectiveWriteTimeout(),
	}, handlers.New(svc, log))

	errCh := srv.RunInBackground()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		srv.Shutdown()
		return err
	}

	srv.Shutdown()
	return nil
}

func newHistory(cfg *config.DatabaseConfig) (operator.HistoryStore, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return operator.NewMemoryHistory(256), nil
	default:
		return operator.NewSQLHistory(cfg)
	}
}

// newLogger builds the process logger. With log.file set, output goes to
// stdout and to a size-rotated file.
func newLogger(cfg *config.LogConfig) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { file.Close() }
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log, closeFn
}
