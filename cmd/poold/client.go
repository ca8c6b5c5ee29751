// client.go - Commands that talk to a running pool through the relay client.
//
//	poold deposit  --key-file alice.key --amount 1000
//	poold prove    --key-file alice.key --to <address> --amount 300 --out exit.json
//	poold claim    --tx exit.json
//	poold withdraw --tx exit.json --to <address> --amount 300

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"shieldpool/internal/api"
	"shieldpool/internal/logx"
	"shieldpool/internal/relay"
	"shieldpool/internal/shielded"
)

type ClientConfig struct {
	PoolURL string
	KeyFile string
	Timeout time.Duration
	Verbose bool

	To     string
	Amount uint64
	Nonce  uint64
	Hash   string
	TxFile string
	Out    string
}

var clientConfig ClientConfig

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Sign a deposit and submit it to the pool",
	Long: `Signs (hash, amount) with the key in --key-file and submits the deposit.
The funds must already be in the pool's custody account on the base ledger.
Without --hash a random commitment is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey(clientConfig.KeyFile)
		if err != nil {
			return err
		}
		hash, err := depositHash(clientConfig.Hash)
		if err != nil {
			return err
		}
		sig, err := key.SignDeposit(hash, clientConfig.Amount)
		if err != nil {
			return err
		}
		client, err := newRelay()
		if err != nil {
			return err
		}
		state, err := client.Deposit(cmd.Context(), key.Address(), hash, clientConfig.Amount, sig)
		if err != nil {
			return err
		}
		return printJSON(cmd, state)
	},
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Sign an exit record and have the pool's proof service prove it",
	Long: `Builds a record paying --amount to --to, signs it with --key-file and requests a proof.
With --nonce 0 the pool's current next nonce is used. The verified transaction is written
to --out, or stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey(clientConfig.KeyFile)
		if err != nil {
			return err
		}
		to, err := shielded.ParseAddress(clientConfig.To)
		if err != nil {
			return err
		}
		client, err := newRelay()
		if err != nil {
			return err
		}
		nonce := clientConfig.Nonce
		if nonce == 0 {
			state, err := client.Pool(cmd.Context())
			if err != nil {
				return err
			}
			nonce = state.NextNonce
		}

		rec := shielded.NewRecord(key.Address(), to, clientConfig.Amount, nonce)
		hash, err := shielded.Commit(rec)
		if err != nil {
			return err
		}
		sig, err := key.SignRecord(rec)
		if err != nil {
			return err
		}
		vt, err := client.Prove(cmd.Context(), hash, rec, sig)
		if err != nil {
			return err
		}
		out := api.FromVerified(vt)
		if clientConfig.Out == "" {
			return printJSON(cmd, out)
		}
		raw, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(clientConfig.Out, raw, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "verified transaction for nonce %d written to %s\n", nonce, clientConfig.Out)
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Submit a verified transaction; the pool pays the record's recipient",
	RunE: func(cmd *cobra.Command, args []string) error {
		vt, err := loadVerified(clientConfig.TxFile)
		if err != nil {
			return err
		}
		client, err := newRelay()
		if err != nil {
			return err
		}
		state, err := client.Claim(cmd.Context(), vt)
		if err != nil {
			return err
		}
		return printJSON(cmd, state)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Submit a verified transaction with explicit recipient and amount",
	Long: `Like claim, but the pool checks --to and --amount against the verified record.
Either may be omitted to take it from the record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vt, err := loadVerified(clientConfig.TxFile)
		if err != nil {
			return err
		}
		recipient, amount := vt.Record.Recipient, vt.Record.Amount
		if clientConfig.To != "" {
			if recipient, err = shielded.ParseAddress(clientConfig.To); err != nil {
				return err
			}
		}
		if clientConfig.Amount != 0 {
			amount = clientConfig.Amount
		}
		client, err := newRelay()
		if err != nil {
			return err
		}
		state, err := client.Withdraw(cmd.Context(), vt, recipient, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd, state)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{depositCmd, proveCmd, claimCmd, withdrawCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().StringVarP(&clientConfig.PoolURL, "pool-url", "u", "http://127.0.0.1:8080", "pool API URL")
		cmd.Flags().DurationVar(&clientConfig.Timeout, "timeout", 2*time.Minute, "request timeout")
		cmd.Flags().BoolVarP(&clientConfig.Verbose, "verbose", "v", false, "verbose output")
	}
	for _, cmd := range []*cobra.Command{depositCmd, proveCmd} {
		cmd.Flags().StringVarP(&clientConfig.KeyFile, "key-file", "f", "", "account private key file written by keygen")
		cmd.Flags().Uint64VarP(&clientConfig.Amount, "amount", "a", 0, "amount")
		_ = cmd.MarkFlagRequired("key-file")
		_ = cmd.MarkFlagRequired("amount")
	}
	for _, cmd := range []*cobra.Command{claimCmd, withdrawCmd} {
		cmd.Flags().StringVar(&clientConfig.TxFile, "tx", "", "verified transaction file written by prove")
		_ = cmd.MarkFlagRequired("tx")
	}

	depositCmd.Flags().StringVar(&clientConfig.Hash, "hash", "", "deposit commitment (decimal or 0x hex)")

	proveCmd.Flags().StringVarP(&clientConfig.To, "to", "t", "", "address of recipient")
	proveCmd.Flags().Uint64Var(&clientConfig.Nonce, "nonce", 0, "record nonce, 0 for the pool's next nonce")
	proveCmd.Flags().StringVarP(&clientConfig.Out, "out", "o", "", "write the verified transaction to this file")
	_ = proveCmd.MarkFlagRequired("to")

	withdrawCmd.Flags().StringVarP(&clientConfig.To, "to", "t", "", "address of recipient")
	withdrawCmd.Flags().Uint64VarP(&clientConfig.Amount, "amount", "a", 0, "amount")
}

func newRelay() (*relay.Client, error) {
	level := "warn"
	if clientConfig.Verbose {
		level = "debug"
	}
	logger, err := logx.New(logx.Options{Level: level})
	if err != nil {
		return nil, err
	}
	return relay.NewClient(clientConfig.PoolURL, clientConfig.Timeout, logger.Named("relay")), nil
}

func loadKey(path string) (*shielded.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return shielded.ParseKeyPair(strings.TrimSpace(string(raw)))
}

func depositHash(s string) (fr.Element, error) {
	if s != "" {
		return shielded.ParseElement(s)
	}
	var hash fr.Element
	if _, err := hash.SetRandom(); err != nil {
		return fr.Element{}, err
	}
	return hash, nil
}

func loadVerified(path string) (*shielded.VerifiedTransaction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read transaction file")
	}
	var vt api.VerifiedTransaction
	if err := json.Unmarshal(raw, &vt); err != nil {
		return nil, errors.Wrap(err, "decode transaction file")
	}
	return vt.Decode()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
