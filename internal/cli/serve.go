package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zervios-cms/internal/seed"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var skipSeed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Unless disabled, the baseline records (admin user,
site settings) are seeded first; seeding failures are logged and the server
starts anyway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, skipSeed)
		},
	}
	cmd.Flags().BoolVar(&skipSeed, "skip-seed", false, "do not seed baseline records on start")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, skipSeed bool) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	app, err := Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Seed.OnStart && !skipSeed {
		seed.New(app.Service, logger).Run(app.Context(ctx), seed.Records(cfg.Seed))
	}
	if cfg.Schema.Watch && cfg.Schema.File != "" {
		if err := app.Holder.WatchFiles(cfg.Schema.File); err != nil {
			return err
		}
	}

	server := app.Server()
	errCh := make(chan error, 1)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- server.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}
