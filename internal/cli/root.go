// Package cli implements the rcld command line.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LeJamon/rcld/internal/config"
	"github.com/LeJamon/rcld/internal/logging"
)

var (
	// Global flags
	configFile   string
	debugLogging bool
	quiet        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rcld",
	Short: "rcld - leaderless ledger consensus validator",
	Long: `rcld runs the Ripple Consensus Ledger algorithm: a validator node that
agrees with its trusted peers on the transaction set and close time of each
ledger, and a discrete-event simulator for networks of such validators.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress console logging")
}

// loadConfig reads the configuration named by --conf, or the defaults.
func loadConfig() (*config.Config, error) {
	paths := config.ConfigPaths{Main: configFile}
	cfg, err := config.LoadConfig(paths)
	if err != nil {
		return nil, err
	}
	if debugLogging {
		cfg.Logging.Level = "debug"
	}
	if quiet {
		cfg.Logging.Quiet = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return logger, nil
}
