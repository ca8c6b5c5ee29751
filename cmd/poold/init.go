package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldpool/internal/config"
	"shieldpool/internal/shielded"
)

var (
	initForce         bool
	initGenesisAmount uint64
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration with a fresh custody address",
	Long: `Initialize a pool configuration by:
- Generating a custody account for the pool on the base ledger
- Allocating the genesis balance of the custody account
- Writing the configuration file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}

		custody, err := shielded.GenerateKeyPair()
		if err != nil {
			return err
		}
		cfg := config.DefaultConfig()
		cfg.CustodyAddress = custody.Address().String()
		if initGenesisAmount > 0 {
			cfg.Genesis = []config.GenesisAccount{{Address: cfg.CustodyAddress, Amount: initGenesisAmount}}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\ncustody address: %s\n", configPath, cfg.CustodyAddress)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	initCmd.Flags().Uint64Var(&initGenesisAmount, "genesis-amount", 1_000_000_000_000, "Base ledger balance allocated to the custody account")
}
