package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldpool/internal/shielded"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an account key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := shielded.GenerateKeyPair()
		if err != nil {
			return err
		}
		if keygenOut != "" {
			if err := os.WriteFile(keygenOut, []byte(key.String()+"\n"), 0600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey written to %s\n", key.Address(), keygenOut)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nprivate key: %s\n", key.Address(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "Write the private key to this file instead of stdout")
}
