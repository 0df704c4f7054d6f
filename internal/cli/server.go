package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anthill-platform/anthill-market/internal/api"
	"github.com/anthill-platform/anthill-market/internal/config"
	"github.com/anthill-platform/anthill-market/internal/di"
	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/notify"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the market service",
	Long: `Start the market service: the HTTP API, the order deadline
reaper, and (when configured) the notification outbox drainer. This is
the default command when no subcommand is given.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	container := di.New()
	provider := di.NewProvider(container, cfg, logger, Version)
	provider.RegisterAll()

	dbStore := container.MustGet(di.ServiceStore).(market.Store)

	type opener interface {
		Open(ctx context.Context) error
		Close() error
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if db, ok := dbStore.(opener); ok {
		if err := db.Open(ctx); err != nil {
			return err
		}
		defer db.Close()
	}

	server := container.MustGet(di.ServiceAPI).(*api.Server)
	reaper := container.MustGet(di.ServiceReaper).(*market.Reaper)
	outbox := container.MustGet(di.ServiceOutbox).(*notify.Outbox)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		err := reaper.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	if outbox != nil {
		defer outbox.Close()
		group.Go(func() error {
			err := outbox.Run(groupCtx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	logger.Info("market service started", "version", Version)
	return group.Wait()
}
