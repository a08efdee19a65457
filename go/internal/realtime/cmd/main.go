package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/config"
	"github.com/mcdev12/scoreboard/go/internal/realtime/derby"
	"github.com/mcdev12/scoreboard/go/internal/realtime/tui"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	cfgFile string
	boutID  string
	logFile string

	rootCmd = &cobra.Command{
		Use:           "scoreboard-sync",
		Short:         "Realtime scoreboard sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Show the live game and action clocks of a bout",
		RunE:  runWatch,
	}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Measure the connection latency once and exit",
		RunE:  runProbe,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Sync with the scoreboard and serve health, info and metrics endpoints",
		RunE:  runStatus,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scoreboard-sync %s (%s, %s)\n", Version, GitCommit, runtime.Version())
		},
	}
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initCommands() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&boutID, "bout", "", "bout to watch, overrides watch.bout")

	watchCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file while the terminal view runs")
	probeCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the connection")

	rootCmd.AddCommand(watchCmd, probeCmd, statusCmd, versionCmd)
}

// loadConfig reads the config file and applies the global level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if boutID != "" {
		cfg.Watch.Bout = boutID
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())
	return cfg, nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Watch.Bout == "" {
		return fmt.Errorf("no bout to watch: pass --bout or set watch.bout")
	}

	// the alternate screen owns the terminal
	var out io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	args := derby.BoutArgs(cfg.Watch.Bout)
	game, err := a.client.Clock(args, clock.FieldGame)
	if err != nil {
		return err
	}
	defer game.Close()
	action, err := a.client.Clock(args, clock.FieldAction)
	if err != nil {
		return err
	}
	defer action.Close()
	bout, err := a.client.Resource(derby.ResourceBout, args)
	if err != nil {
		return err
	}
	defer bout.Close()

	return tui.Run(tui.Options{
		BoutID: cfg.Watch.Bout,
		Status: a.client,
		Game:   game,
		Action: action,
		Bout:   bout,
	})
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()
	if err := a.WaitOnline(waitCtx); err != nil {
		return fmt.Errorf("no connection to %s: %w", cfg.Server.URL, err)
	}

	latency, samples := a.client.Estimate(ctx)
	if samples == 0 {
		return fmt.Errorf("none of %d latency samples succeeded", cfg.Latency.Iterations)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "latency: %d ms (%d of %d samples)\n", latency.Milliseconds(), samples, cfg.Latency.Iterations)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("server_url", cfg.Server.URL).
		Str("status_addr", cfg.Status.Addr).
		Bool("mirror", cfg.Mirror.Enabled).
		Msg("starting scoreboard sync")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	server := newStatusServer(cfg.Status.Addr, a)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("scoreboard sync shutdown complete")
	return nil
}
