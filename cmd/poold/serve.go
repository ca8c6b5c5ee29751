package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldpool/internal/api"
	"shieldpool/internal/baseledger"
	"shieldpool/internal/config"
	"shieldpool/internal/events"
	"shieldpool/internal/logx"
	"shieldpool/internal/metrics"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store"
	"shieldpool/internal/transactions/transfer"
)

const version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool API",
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// openBaseLedger creates the base ledger with the genesis allocations of cfg and returns
// the pool's custody adapter.
func openBaseLedger(cfg *config.Config, logger *zap.Logger) (*baseledger.Ledger, *baseledger.Custody, error) {
	ledger := baseledger.NewLedger(logger.Named("baseledger"))
	for _, g := range cfg.Genesis {
		addr, err := shielded.ParseAddress(g.Address)
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Fund(addr, uint256.NewInt(g.Amount)); err != nil {
			return nil, nil, err
		}
	}
	custody, err := shielded.ParseAddress(cfg.CustodyAddress)
	if err != nil {
		return nil, nil, err
	}
	return ledger, ledger.Custody(custody), nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ccs, pk, vk, err := proofKeys(cfg, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewMetricsCollector(prometheus.NewRegistry())
	verifier, err := transfer.NewVerifier(vk, cfg.VerifierCacheSize, collector)
	if err != nil {
		return err
	}
	_, custody, err := openBaseLedger(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StatePath, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewEventBus(logger.Named("events"))
	defer bus.Close()
	_, auditCh := bus.Subscribe()
	go events.AuditLog(auditCh, logger.Named("audit"))

	pool, err := shielded.OpenPool(st, verifier, custody,
		shielded.WithNotifier(shielded.MultiNotifier{collector, bus}),
		shielded.WithLogger(logger.Named("pool")),
	)
	if err != nil {
		return err
	}
	collector.SetState(pool.Snapshot())

	health := api.NewHealthChecker(version)
	health.Register("base_ledger", func() (api.HealthStatus, error) {
		_, err := custody.AccountBalance(ctx, custody.Address())
		return api.Healthy, err
	})
	health.Register("state_store", func() (api.HealthStatus, error) {
		_, _, err := st.Load()
		return api.Healthy, err
	})

	limiter, err := api.NewClientRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, cfg.RateLimit.MaxClients)
	if err != nil {
		return err
	}
	opts := api.Options{
		Errors:         collector,
		Health:         health,
		Limiter:        limiter,
		MetricsHandler: collector.Handler(),
		Timeout:        cfg.Timeout(),
		Logger:         logger.Named("api"),
	}
	if cfg.EnableProver {
		opts.Prover = transfer.NewProver(ccs, pk, logger.Named("prover"))
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(pool, opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pool API listening", zap.String("addr", cfg.ListenAddr), zap.Bool("prover", cfg.EnableProver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
