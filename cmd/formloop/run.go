package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/formloop/formloop/internal/application/sequencer"
	"github.com/formloop/formloop/internal/config"
	"github.com/formloop/formloop/internal/infrastructure/api"
	"github.com/formloop/formloop/internal/infrastructure/datatree"
	"github.com/formloop/formloop/internal/infrastructure/events"
	"github.com/formloop/formloop/internal/infrastructure/reporting"
	storepkg "github.com/formloop/formloop/internal/infrastructure/store"
	"github.com/formloop/formloop/internal/infrastructure/telemetry"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
	"github.com/formloop/formloop/internal/server"
	"github.com/formloop/formloop/internal/tui/dashboard"
)

type runOptions struct {
	configPath string
	dashboard  bool
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the evaluation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(flags, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "formloop.yaml", "Path to the configuration file")
	cmd.Flags().BoolVar(&opts.dashboard, "dashboard", false, "Attach the live terminal dashboard")

	return cmd
}

func runService(flags *rootFlags, opts runOptions) error {
	cfg, err := config.ParseConfig(opts.configPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg, flags.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "trace exporter shutdown failed", "error", err)
		}
	}()

	var st *storepkg.Store
	if cfg.Persistence.Path != "" {
		st, err = storepkg.Open(cfg.Persistence.Path, storepkg.WithLogger(log.With("component", "store")))
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer st.Close()
	} else {
		st = storepkg.New(storepkg.WithLogger(log.With("component", "store")))
	}

	tree := datatree.NewTree()
	bus := events.NewBus(log.With("component", "bus"))
	defer bus.Close()

	client := api.NewClient(api.Options{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout.Std(),
		RetryMax:       cfg.Backend.RetryMax,
		Logger:         log.With("component", "api"),
	})

	reporter := reporting.NewLogReporter(log.With("component", "reporter"))
	fetcher := sequencer.NewFetcher(client, tree, st,
		sequencer.WithFetcherLogger(log.With("component", "fetcher")))

	seq := sequencer.New(client, st, bus, fetcher,
		sequencer.WithLogger(log.With("component", "sequencer")),
		sequencer.WithReporter(reporter),
		sequencer.WithTracer(telemetry.Tracer("formloop")),
		sequencer.WithSettleDelay(cfg.Sequencer.SettleDelay.Std()),
		sequencer.WithSignalTimeout(cfg.Sequencer.SignalTimeout.Std()),
	)

	listener := sequencer.NewListener(bus, seq,
		sequencer.WithListenerLogger(log.With("component", "listener")),
		sequencer.WithListenerReporter(reporter))

	srv := server.New(cfg.Server.ListenAddr, bus, st,
		server.WithServerLogger(log.With("component", "server")),
		server.WithEntitySink(tree))

	errCh := make(chan error, 3)
	go func() { errCh <- seq.Run(ctx) }()
	go func() { errCh <- listener.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	// The listener subscribes to the start action asynchronously; repeat
	// the publish briefly so it cannot be missed.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 100; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = bus.Publish(ctx, ports.Action{Type: ports.ActionStart})
			}
		}
	}()

	log.Info(ctx, "formloop started",
		"listen_addr", cfg.Server.ListenAddr,
		"backend", cfg.Backend.BaseURL,
		"persistence", cfg.Persistence.Path != "")

	if opts.dashboard {
		program := tea.NewProgram(dashboard.NewModel(bus, seq), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			program.Quit()
		}()
		if _, err := program.Run(); err != nil {
			stop()
			return fmt.Errorf("dashboard: %w", err)
		}
		stop()
		return nil
	}

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func buildLogger(cfg *config.Config, verbose bool) (ports.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	humanReadable := false
	switch cfg.Logging.Format {
	case "console":
		humanReadable = true
	case "auto":
		humanReadable = term.IsTerminal(int(os.Stderr.Fd()))
	}

	return logger.New(logger.Options{
		Level:         level,
		HumanReadable: humanReadable,
	})
}
