package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anthill-platform/anthill-market/internal/config"
	"github.com/anthill-platform/anthill-market/internal/storage/relationaldb"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Initialize the database schema",
	Long: `Connect to the configured database, create any missing tables
and indexes, and exit. The server does this on startup as well; initdb
exists for provisioning pipelines that prepare the schema separately.`,
	RunE: runInitDB,
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	manager, err := relationaldb.NewManager(&cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := manager.Open(context.Background()); err != nil {
		return err
	}
	defer manager.Close()

	logger.Info("database schema initialized", "driver", cfg.Database.Driver)
	return nil
}
