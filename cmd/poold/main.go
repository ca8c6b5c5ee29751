// main.go - poold, the shielded pool daemon.
//
// Usage:
//
//	poold init                 write a default config with a fresh custody address
//	poold setup                compile the transfer circuit and generate Groth16 keys
//	poold keygen               create an account key
//	poold serve                run the pool API
//	poold resolve --delivered  settle a payout whose outcome was unknown (server stopped)
//	poold demo                 run the deposit / withdraw scenarios in-process
//	poold deposit|prove        sign locally and submit to a running pool
//	poold claim|withdraw       submit a verified transaction written by prove
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldpool/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "poold",
	Short:         "Shielded value pool daemon",
	Long:          "Runs and manages a shielded value pool bound to a custody account on a base ledger.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "poold.yaml", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "poold:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
