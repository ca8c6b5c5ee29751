package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldpool/internal/logx"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store"
)

var resolveDelivered bool

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Settle a payout whose outcome was unknown",
	Long: `After a base ledger failure with unknown outcome the pool refuses all mutations.
Check the recipient's balance on the base ledger, stop the server and run:
  poold resolve --delivered=true   if the payout went through
  poold resolve --delivered=false  if it did not; the debit and nonce are restored`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("delivered") {
			return fmt.Errorf("--delivered must be set explicitly")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logx.New(cfg.LoggerOptions())
		if err != nil {
			return err
		}
		defer logger.Sync()

		st, err := store.Open(cfg.StatePath, nil)
		if err != nil {
			return err
		}
		defer st.Close()
		_, custody, err := openBaseLedger(cfg, logger)
		if err != nil {
			return err
		}

		// Resolution never consumes a proof.
		refuse := shielded.VerifierFunc(func(*shielded.VerifiedTransaction) error { return shielded.ErrProofInvalid })
		pool, err := shielded.OpenPool(st, refuse, custody, shielded.WithLogger(logger.Named("pool")))
		if err != nil {
			return err
		}
		if err := pool.ResolvePending(context.Background(), resolveDelivered); err != nil {
			return err
		}
		state := pool.Snapshot()
		logger.Info("payout resolved", zap.Uint64("balance", state.Balance), zap.Uint64("next_nonce", state.NextNonce))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveDelivered, "delivered", false, "Whether the pending payout reached the recipient")
}
