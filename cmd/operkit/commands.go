package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/operkit/operkit/internal/config"
	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/journal"
	"github.com/operkit/operkit/internal/journal/factory"
	"github.com/operkit/operkit/internal/logger"
	"github.com/operkit/operkit/internal/metrics"
	"github.com/operkit/operkit/internal/server"
	"github.com/operkit/operkit/internal/simulate"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags

	root := &cobra.Command{
		Use:           "operkit",
		Short:         "operkit supervises per-object background daemons",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(newServeCmd(&gf))
	root.AddCommand(newSimulateCmd(&gf))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a supervisor with the ops HTTP surface, for embedding via the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gf.ConfigPath)
		},
	}
}

func newSimulateCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Churn synthetic objects through the spawn and termination cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(gf.ConfigPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the operkit version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("operkit %s\n", version)
		},
	}
}

func loadConfig(path string) (config.FileConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setup assembles the pieces every long-running command needs: config,
// logger, metrics registration, and the journal sink selected by DSN.
func setup(path string) (config.FileConfig, *slog.Logger, io.Closer, journal.Sink, error) {
	fc, err := loadConfig(path)
	if err != nil {
		return fc, nil, nil, nil, err
	}
	log, closer := logger.New(fc.Log)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fc, nil, nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	var sink journal.Sink
	if fc.Journal.DSN != "" {
		sink, err = factory.NewSinkFromDSN(fc.Journal.DSN)
		if err != nil {
			return fc, nil, nil, nil, fmt.Errorf("open journal: %w", err)
		}
	}
	return fc, log, closer, sink, nil
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func closeSink(sink journal.Sink, log *slog.Logger) {
	if c, ok := sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("journal close failed", "error", err)
		}
	}
}

func runServe(path string) error {
	fc, log, closer, sink, err := setup(path)
	if err != nil {
		return err
	}
	defer closeQuiet(closer)
	defer closeSink(sink, log)

	sup := daemon.New(daemon.Config{
		Logger:       log,
		Journal:      sink,
		Finalizer:    fc.Finalizer,
		StatusPrefix: fc.StatusPrefix,
	})
	srv, err := server.NewServer(fc.Listen, "", sup)
	if err != nil {
		return err
	}
	log.Info("operkit serving", "listen", fc.Listen, "run_id", sup.RunID())

	waitForSignal()
	log.Info("shutting down")

	sweep, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.StopAll(sweep)
	return shutdownHTTP(srv)
}

func runSimulate(path string) error {
	fc, log, closer, sink, err := setup(path)
	if err != nil {
		return err
	}
	defer closeQuiet(closer)
	defer closeSink(sink, log)

	runner := simulate.New(fc, log, sink)
	srv, err := server.NewServer(fc.Listen, "", runner.Supervisor())
	if err != nil {
		return err
	}
	log.Info("operkit simulating", "objects", fc.Simulate.Objects, "listen", fc.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitForSignal()
		cancel()
	}()
	runErr := runner.Run(ctx)
	if runErr == context.Canceled {
		runErr = nil
	}
	log.Info("simulation finished", "cycles", runner.Cycles())
	if err := shutdownHTTP(srv); err != nil {
		return err
	}
	return runErr
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	signal.Stop(ch)
}

func shutdownHTTP(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
