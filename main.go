package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bestelling-engine/app"
	"bestelling-engine/config"
	"bestelling-engine/mutation"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("main")

func main() {
	// Load .env file in development. In production, variables are set directly.
	if os.Getenv("ENV") != "production" {
		// Use Overload so .env values override system environment variables
		if err := godotenv.Overload(".env"); err != nil {
			logger.Warn().Msg("⚠️ .env file not found, using system environment variables")
		} else {
			logger.Info().Msg("✅ Loaded environment variables from .env")
		}
	}

	rootCmd := &cobra.Command{
		Use:          "bestelling",
		Short:        "Basket and order engine with a serialised mutation queue",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apiCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// start loads the configuration and builds the app. The returned context
// ends on SIGINT or SIGTERM.
func start() (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	utils.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := app.Initialize(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, stop, a, nil
}

// redriveOnHangup retries failed records whenever the process receives SIGHUP.
func redriveOnHangup(ctx context.Context, proc *mutation.Processor) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				proc.Redrive()
			}
		}
	}()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the processor in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := start()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			redriveOnHangup(ctx, a.Processor)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Serve(gctx) })
			g.Go(func() error { return a.Processor.Run(gctx, mutation.RunOptions{}) })
			return g.Wait()
		},
	}
}

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP API; a separate process handles the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := start()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			if a.Config.RedisAddr == "" {
				logger.Warn().Msg("⚠️ REDIS_ADDR not set, the processor only notices new records by polling")
			}
			return a.Serve(ctx)
		},
	}
}

func processCmd() *cobra.Command {
	var (
		duration   time.Duration
		stopMinute int
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the mutation processor",
		Long: `Run the single consumer of the mutation queue.

Examples:
  bestelling process
  bestelling process --duration 1h
  bestelling process --stop-minute 55
  bestelling process --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := start()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			if once {
				if err := a.Processor.ColdStart(ctx); err != nil {
					return err
				}
				n, err := a.Processor.ProcessPending(ctx)
				if err != nil {
					return err
				}
				logger.Info().Msgf("✅ Processed %d records", n)
				return nil
			}

			opts := mutation.RunOptions{Duration: duration}
			if cmd.Flags().Changed("stop-minute") {
				if stopMinute < 0 || stopMinute > 59 {
					return fmt.Errorf("--stop-minute must be between 0 and 59")
				}
				opts.StopMinute = &stopMinute
			}

			redriveOnHangup(ctx, a.Processor)
			return a.Processor.Run(ctx, opts)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "maximum run time (0 runs until interrupted)")
	cmd.Flags().IntVar(&stopMinute, "stop-minute", 0, "stop at this minute of the hour (0-59)")
	cmd.Flags().BoolVar(&once, "once", false, "process the backlog once and exit")

	return cmd
}

func maintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Purge orders and processed records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := start()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			_, err = a.Maintenance.Sweep(ctx, time.Now().UTC())
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stop, a, err := start()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			logger.Info().Msg("✅ Database schema is up to date")
			return nil
		},
	}
}
