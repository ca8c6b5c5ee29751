// demo.go - In-process walkthrough of the pool lifecycle.
//
// Runs four scenarios against fresh pools sharing one base ledger and one set of Groth16 keys:
//   - A: a signed deposit is accounted
//   - B: a proven withdrawal pays the recipient on the base ledger
//   - C: a withdrawal larger than the pool balance is rejected
//   - D: a deposit signed by the wrong key is rejected

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldpool/internal/baseledger"
	"shieldpool/internal/config"
	"shieldpool/internal/logx"
	"shieldpool/internal/shielded"
	"shieldpool/internal/transactions/transfer"
)

var demoKeyDir string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the deposit and withdrawal scenarios in-process",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logx.New(logx.Options{Level: "info"})
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg := config.DefaultConfig()
		cfg.KeyDir = demoKeyDir
		ccs, pk, vk, err := proofKeys(cfg, logger)
		if err != nil {
			return err
		}
		d, err := newDemo(ccs, pk, vk, logger)
		if err != nil {
			return err
		}
		for _, sc := range []struct {
			name string
			run  func(context.Context) error
		}{
			{"A: deposit", d.scenarioA},
			{"B: deposit then withdraw", d.scenarioB},
			{"C: withdraw above balance", d.scenarioC},
			{"D: deposit with wrong key", d.scenarioD},
		} {
			if err := sc.run(cmd.Context()); err != nil {
				logger.Error("scenario failed", zap.String("scenario", sc.name), zap.Error(err))
				return err
			}
			logger.Info("scenario passed", zap.String("scenario", sc.name))
		}
		fmt.Fprintln(os.Stdout, "all scenarios passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoKeyDir, "key-dir", "keys", "Directory holding the transfer circuit keys")
}

type demo struct {
	ledger   *baseledger.Ledger
	prover   *transfer.Prover
	verifier *transfer.Verifier
	alice    *shielded.KeyPair
	bob      *shielded.KeyPair
	logger   *zap.Logger
}

func newDemo(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey, logger *zap.Logger) (*demo, error) {
	verifier, err := transfer.NewVerifier(vk, 0, nil)
	if err != nil {
		return nil, err
	}
	alice, err := shielded.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	bob, err := shielded.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	ledger := baseledger.NewLedger(logger.Named("baseledger"))
	if err := ledger.Fund(alice.Address(), uint256.NewInt(100_000_000_000)); err != nil {
		return nil, err
	}
	return &demo{
		ledger:   ledger,
		prover:   transfer.NewProver(ccs, pk, logger.Named("prover")),
		verifier: verifier,
		alice:    alice,
		bob:      bob,
		logger:   logger,
	}, nil
}

// newPool opens an in-memory pool with its own custody account.
func (d *demo) newPool() (*shielded.Pool, shielded.Address, error) {
	custody, err := shielded.GenerateKeyPair()
	if err != nil {
		return nil, shielded.Address{}, err
	}
	pool, err := shielded.OpenPool(nil, d.verifier, d.ledger.Custody(custody.Address()), shielded.WithLogger(d.logger.Named("pool")))
	return pool, custody.Address(), err
}

// deposit moves amount into custody on the base ledger, then has the pool account for it.
func (d *demo) deposit(ctx context.Context, pool *shielded.Pool, custody shielded.Address, signer *shielded.KeyPair, amount uint64) error {
	rec := shielded.NewRecord(d.alice.Address(), custody, amount, 0)
	hash, err := shielded.Commit(rec)
	if err != nil {
		return err
	}
	sig, err := signer.SignDeposit(hash, amount)
	if err != nil {
		return err
	}
	if err := d.ledger.Transfer(d.alice.Address(), custody, uint256.NewInt(amount)); err != nil {
		return err
	}
	return pool.Deposit(ctx, d.alice.Address(), hash, amount, sig)
}

// exit proves a transfer of amount to bob at the pool's current nonce.
func (d *demo) exit(pool *shielded.Pool, amount uint64) (*shielded.VerifiedTransaction, error) {
	rec := shielded.NewRecord(d.alice.Address(), d.bob.Address(), amount, pool.NextNonce())
	hash, err := shielded.Commit(rec)
	if err != nil {
		return nil, err
	}
	sig, err := d.alice.SignRecord(rec)
	if err != nil {
		return nil, err
	}
	return d.prover.Verify(hash, rec, sig)
}

func expectState(pool *shielded.Pool, balance, nonce uint64) error {
	if got := pool.PoolBalance(); got != balance {
		return errors.Errorf("pool balance %d, want %d", got, balance)
	}
	if got := pool.NextNonce(); got != nonce {
		return errors.Errorf("next nonce %d, want %d", got, nonce)
	}
	return nil
}

func (d *demo) scenarioA(ctx context.Context) error {
	pool, custody, err := d.newPool()
	if err != nil {
		return err
	}
	if err := d.deposit(ctx, pool, custody, d.alice, 1_000_000_000); err != nil {
		return err
	}
	return expectState(pool, 1_000_000_000, shielded.InitialNonce)
}

func (d *demo) scenarioB(ctx context.Context) error {
	pool, custody, err := d.newPool()
	if err != nil {
		return err
	}
	if err := d.deposit(ctx, pool, custody, d.alice, 5_000_000_000); err != nil {
		return err
	}
	before := d.ledger.Balance(d.bob.Address())
	vt, err := d.exit(pool, 1_000_000_000)
	if err != nil {
		return err
	}
	if err := pool.Withdraw(ctx, vt, d.bob.Address(), 1_000_000_000); err != nil {
		return err
	}
	if err := expectState(pool, 4_000_000_000, shielded.InitialNonce+1); err != nil {
		return err
	}
	gained := new(uint256.Int).Sub(d.ledger.Balance(d.bob.Address()), before)
	if gained.Uint64() != 1_000_000_000 {
		return errors.Errorf("recipient gained %s, want 1000000000", gained)
	}
	return nil
}

func (d *demo) scenarioC(ctx context.Context) error {
	pool, custody, err := d.newPool()
	if err != nil {
		return err
	}
	if err := d.deposit(ctx, pool, custody, d.alice, 5_000_000_000); err != nil {
		return err
	}
	vt, err := d.exit(pool, 10_000_000_000)
	if err != nil {
		return err
	}
	err = pool.Withdraw(ctx, vt, d.bob.Address(), 10_000_000_000)
	if !errors.Is(err, shielded.ErrInsufficientPoolBalance) {
		return errors.Errorf("expected insufficient pool balance, got %v", err)
	}
	return expectState(pool, 5_000_000_000, shielded.InitialNonce)
}

func (d *demo) scenarioD(ctx context.Context) error {
	pool, custody, err := d.newPool()
	if err != nil {
		return err
	}
	err = d.deposit(ctx, pool, custody, d.bob, 1_000)
	if !errors.Is(err, shielded.ErrSignatureInvalid) {
		return errors.Errorf("expected signature invalid, got %v", err)
	}
	return expectState(pool, 0, shielded.InitialNonce)
}
