package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"commodrails/internal/chain"
	"commodrails/internal/config"
	"commodrails/internal/escrow"
	"commodrails/internal/eventlog"
	"commodrails/internal/hmacauth"
	"commodrails/internal/host"
	"commodrails/internal/idempotency"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Host    *host.Host
	Store   idempotency.Store
	Feed    *eventlog.Feed
	Metrics *Metrics
	Logger  *zap.Logger
}

type Server struct {
	cfg         *config.AppConfig
	host        *host.Host
	store       idempotency.Store
	feed        *eventlog.Feed
	hmac        *hmacauth.Verifier
	limiter     *rateLimiter
	keys        *keyLocks
	httpServer  *http.Server
	metrics     *Metrics
	logger      *zap.Logger
	router      http.Handler
	now         func() time.Time
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := deps.Feed
	if feed == nil {
		feed = eventlog.NewFeed(cfg.Service.EventFeedSize)
	}

	s := &Server{
		cfg:   cfg,
		host:  deps.Host,
		store: deps.Store,
		feed:  feed,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		keys:    newKeyLocks(),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	s.limiter = newRateLimiter(cfg.Service.RateLimitPerMinute, cfg.Service.RateLimitBurst, metrics.rateLimited.Inc)

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Host.Blocks().(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	metrics.observe(
		func() float64 { return float64(s.host.ContractCount()) },
		func() float64 {
			bal := s.host.Supply().CustodianBalance
			f, _ := new(big.Float).SetInt(bal.ToBig()).Float64()
			return f
		},
	)
	s.updateIncidentDepth()

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.handler())

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)

			r.Get("/supply", s.handleSupply)
			r.Get("/contracts", s.handleContractCount)
			r.Get("/contracts/{id}", s.handleGetContract)
			r.Get("/accounts/{address}/balance", s.handleBalance)
			r.Get("/accounts/{owner}/allowances/{spender}", s.handleAllowance)
			r.Get("/blocks/current", s.handleCurrentBlock)
			r.Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(limitBody(maxBodyBytes), s.hmac.Middleware, requireCaller)

				r.Post("/contracts", s.idempotent(s.createContract))
				r.Post("/contracts/{id}/buy", s.idempotent(s.buyContract))
				r.Post("/contracts/{id}/finalize", s.idempotent(s.finalizeContract))
				r.Post("/transfers", s.idempotent(s.transfer))
				r.Post("/transfers/delegated", s.idempotent(s.transferFrom))
				r.Post("/approvals", s.idempotent(s.approve))
				r.Post("/blocks/advance", s.idempotent(s.advanceBlocks))
			})
		})
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// opHandler performs one mutating operation and returns the status and
// body to send. Whatever it returns below 500 is stored for replay.
type opHandler func(r *http.Request, caller common.Address, body []byte) (int, any)

// idempotent requires an X-Idempotency-Key, scopes it to the caller, and
// answers retries from the store. A key reused with a different request is
// rejected. Requests sharing a key run one at a time, and stores shared
// between replicas are claimed before the operation runs.
func (s *Server) idempotent(h opHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
		if key == "" {
			writeProblem(w, http.StatusBadRequest, "MissingIdempotencyKey", "missing X-Idempotency-Key header")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeBodyError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		caller := callerFrom(ctx)
		scoped := caller.Hex() + ":" + key
		fingerprint := idempotency.Fingerprint([]byte(r.Method), []byte(r.URL.Path), body)

		unlock := s.keys.lock(scoped)
		defer unlock()

		existing, err := s.store.Get(ctx, scoped)
		if err != nil {
			s.logger.Warn("idempotency lookup failed", zap.String("key", scoped), zap.Error(err))
		}
		if existing == nil {
			reserved, err := s.reserve(ctx, scoped, fingerprint)
			if err != nil {
				writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "idempotency store unavailable")
				return
			}
			if !reserved {
				if existing, err = s.store.Get(ctx, scoped); err != nil || existing == nil {
					writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "idempotency store unavailable")
					return
				}
			}
		}
		if existing != nil {
			s.replay(w, existing, fingerprint)
			return
		}

		status, resp := h(r, caller, body)
		b, _ := json.Marshal(resp)

		if status < http.StatusInternalServerError {
			now := s.now()
			record := idempotency.Record{
				StatusCode:  status,
				Response:    b,
				Fingerprint: fingerprint,
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
			}
			if err := s.store.Save(ctx, scoped, record); err != nil {
				s.logger.Warn("idempotency save failed", zap.String("key", scoped), zap.Error(err))
				s.release(ctx, scoped)
			}
		} else {
			s.release(ctx, scoped)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(b)
	}
}

// reserve claims key in stores that support it. Stores without claims are
// covered by the in-process key lock alone.
func (s *Server) reserve(ctx context.Context, key, fingerprint string) (bool, error) {
	reserver, ok := s.store.(idempotency.Reserver)
	if !ok {
		return true, nil
	}
	reserved, err := reserver.Reserve(ctx, key, fingerprint, s.now().Add(s.cfg.Service.IdempotencyWindow))
	if err != nil {
		s.logger.Warn("idempotency reserve failed", zap.String("key", key), zap.Error(err))
	}
	return reserved, err
}

// release drops a pending claim so the key can be retried.
func (s *Server) release(ctx context.Context, key string) {
	reserver, ok := s.store.(idempotency.Reserver)
	if !ok {
		return
	}
	if err := reserver.Release(ctx, key); err != nil {
		s.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) replay(w http.ResponseWriter, existing *idempotency.Record, fingerprint string) {
	switch {
	case existing.Fingerprint != fingerprint:
		s.metrics.incReplay("conflict")
		writeProblem(w, http.StatusConflict, "IdempotencyKeyReused", "idempotency key was used for a different request")
	case existing.Pending():
		s.metrics.incReplay("in_progress")
		writeProblem(w, http.StatusConflict, "RequestInProgress", "a request with this idempotency key is still running")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incReplay("hit")
	}
}

// outcome records metrics for an operation and turns its error into a
// response.
func (s *Server) outcome(op string, caller common.Address, err error, status int, body any) (int, any) {
	if err == nil {
		s.metrics.incOperation(op, "ok")
		return status, body
	}
	code, name := statusFor(err)
	s.metrics.incOperation(op, name)
	if escrow.IsFatal(err) {
		s.recordIncident(op, caller, err)
	}
	return code, problem{Error: name, Message: err.Error()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Block     uint64  `json:"block"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if s.rpcHealthFn != nil {
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		}
	}
	if rpcInfo.Error == "" {
		if block, err := s.host.CurrentBlock(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.Block = uint64(block)
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	ledgerInfo := struct {
		Conserved bool   `json:"conserved"`
		Error     string `json:"error,omitempty"`
	}{Conserved: true}
	if err := s.host.CheckConservation(); err != nil {
		ledgerInfo.Conserved = false
		ledgerInfo.Error = err.Error()
		overallHealthy = false
	}

	incidents := s.updateIncidentDepth()
	if incidents > 0 {
		overallHealthy = false
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status    string `json:"status"`
		RPC       any    `json:"rpc"`
		Database  any    `json:"database"`
		Ledger    any    `json:"ledger"`
		Incidents int    `json:"incidents"`
	}{
		Status:    status,
		RPC:       rpcInfo,
		Database:  dbInfo,
		Ledger:    ledgerInfo,
		Incidents: incidents,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
