// server.go - REST API for the shielded pool.
//
// The API accepts signed deposits, verified transactions for withdrawal or claim, and,
// when a prover is configured, proof requests. Every pool error is reported with a stable
// code (see shielded.ErrorCode) so that relays can map it back to the taxonomy.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shieldpool/internal/shielded"
)

const maxBodyBytes = 1 << 20

// Prover produces verified transactions from signed records.
type Prover interface {
	Verify(hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*shielded.VerifiedTransaction, error)
}

// ErrorRecorder counts rejected requests.
type ErrorRecorder interface {
	RecordError(operation string, err error)
}

// Options configures optional server collaborators.
type Options struct {
	Prover         Prover
	Errors         ErrorRecorder
	Health         *HealthChecker
	Limiter        *ClientRateLimiter
	MetricsHandler http.Handler
	Timeout        time.Duration
	Logger         *zap.Logger
}

type Server struct {
	pool    *shielded.Pool
	opts    Options
	logger  *zap.Logger
	router  *mux.Router
	handler http.Handler
}

func NewServer(pool *shielded.Pool, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Health == nil {
		opts.Health = NewHealthChecker("dev")
	}
	s := &Server{
		pool:   pool,
		opts:   opts,
		logger: opts.Logger,
		router: mux.NewRouter(),
	}
	s.opts.Health.Register("pool", func() (HealthStatus, error) {
		if pool.Snapshot().Pending != nil {
			return Degraded, nil
		}
		return Healthy, nil
	})
	s.setupRoutes()

	var h http.Handler = s.router
	if opts.Limiter != nil {
		h = opts.Limiter.Middleware(h)
	}
	s.handler = s.logRequests(h)
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/pool", s.getPool).Methods("GET")
	s.router.HandleFunc("/health", s.getHealth).Methods("GET")
	if s.opts.MetricsHandler != nil {
		s.router.Handle("/metrics", s.opts.MetricsHandler).Methods("GET")
	}

	s.router.HandleFunc("/deposit", s.deposit).Methods("POST")
	s.router.HandleFunc("/withdraw", s.withdraw).Methods("POST")
	s.router.HandleFunc("/claim", s.claim).Methods("POST")
	if s.opts.Prover != nil {
		s.router.HandleFunc("/prove", s.prove).Methods("POST")
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.Timeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewPoolResponse(s.pool.Snapshot()))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	health := s.opts.Health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.decode(w, r, "deposit", &req) {
		return
	}
	sender, err := shielded.ParseAddress(req.Sender)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}
	hash, err := shielded.ParseElement(req.Hash)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}
	sig, err := DecodeSignature(req.Signature, shielded.ErrSignatureInvalid)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.pool.Deposit(ctx, sender, hash, req.Amount, sig); err != nil {
		s.fail(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, NewPoolResponse(s.pool.Snapshot()))
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !s.decode(w, r, "withdraw", &req) {
		return
	}
	vt, err := req.Transaction.Decode()
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	recipient, err := shielded.ParseAddress(req.Recipient)
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.pool.Withdraw(ctx, vt, recipient, req.Amount); err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, NewPoolResponse(s.pool.Snapshot()))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !s.decode(w, r, "claim", &req) {
		return
	}
	vt, err := req.Transaction.Decode()
	if err != nil {
		s.fail(w, "claim", err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.pool.Claim(ctx, vt); err != nil {
		s.fail(w, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, NewPoolResponse(s.pool.Snapshot()))
}

func (s *Server) prove(w http.ResponseWriter, r *http.Request) {
	var req ProveRequest
	if !s.decode(w, r, "prove", &req) {
		return
	}
	hash, err := shielded.ParseElement(req.Hash)
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	rec, err := req.Record.Decode()
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	sig, err := DecodeSignature(req.Signature, shielded.ErrProofInvalid)
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	vt, err := s.opts.Prover.Verify(hash, rec, sig)
	if err != nil {
		s.fail(w, "prove", err)
		return
	}
	writeJSON(w, http.StatusOK, FromVerified(vt))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.recordError(op, err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.recordError(op, err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("operation", op), zap.Error(err))
	} else {
		s.logger.Info("request rejected", zap.String("operation", op), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Code: shielded.ErrorCode(err), Message: err.Error()})
}

func (s *Server) recordError(op string, err error) {
	if s.opts.Errors != nil {
		s.opts.Errors.RecordError(op, err)
	}
}

// StatusFor maps the pool error taxonomy to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shielded.ErrInvalidAmount),
		errors.Is(err, shielded.ErrInvalidAddress),
		errors.Is(err, shielded.ErrInvalidElement),
		errors.Is(err, shielded.ErrRecordMismatch):
		return http.StatusBadRequest
	case errors.Is(err, shielded.ErrSignatureInvalid),
		errors.Is(err, shielded.ErrProofInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shielded.ErrNonceConsumed),
		errors.Is(err, shielded.ErrNonceMismatch),
		errors.Is(err, shielded.ErrInsufficientPoolBalance),
		errors.Is(err, shielded.ErrOverflow):
		return http.StatusConflict
	case errors.Is(err, shielded.ErrPayoutPending),
		errors.Is(err, shielded.ErrPayoutUnsettled):
		return http.StatusServiceUnavailable
	case errors.Is(err, shielded.ErrBaseLedgerFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
