package main

import (
	"os"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldpool/internal/config"
	"shieldpool/internal/logx"
	"shieldpool/internal/transactions/transfer"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Compile the transfer circuit and generate or load its Groth16 keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logx.New(cfg.LoggerOptions())
		if err != nil {
			return err
		}
		defer logger.Sync()

		_, _, _, err = proofKeys(cfg, logger)
		return err
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// proofKeys compiles the transfer circuit and loads its keys from cfg.KeyDir, running the
// trusted setup when they are missing.
func proofKeys(cfg *config.Config, logger *zap.Logger) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	start := time.Now()
	ccs, err := transfer.Compile()
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("transfer circuit compiled",
		zap.Int("constraints", ccs.GetNbConstraints()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := os.MkdirAll(cfg.KeyDir, 0755); err != nil {
		return nil, nil, nil, err
	}
	start = time.Now()
	pk, vk, err := transfer.SetupOrLoadKeys(ccs, cfg.ProvingKeyPath(), cfg.VerifyingKeyPath())
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("groth16 keys ready",
		zap.String("proving_key", cfg.ProvingKeyPath()),
		zap.String("verifying_key", cfg.VerifyingKeyPath()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ccs, pk, vk, nil
}
