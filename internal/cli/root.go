package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the build.
var Version = "0.1.0-dev"

var (
	configFile string
	debug      bool
	verbose    bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "marketd - in-game barter exchange service",
	Long: `marketd runs a free-market exchange for game resources: players
post barter orders (give N of one item for M of another), the matching
engine executes compatible counter-orders, and every trade lands in an
append-only journal. Markets are isolated per gamespace.`,
	Version: Version,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}
