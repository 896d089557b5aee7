package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftswap/core/events"
	"nftswap/core/state"
	"nftswap/native/bank"
	"nftswap/native/exchange"
	"nftswap/native/policy"
	"nftswap/observability"
	"nftswap/services/exchanged/indexer"
	"nftswap/services/exchanged/middleware"
	"nftswap/services/exchanged/stream"
)

const maxBodyBytes = 1 << 20

// Config captures the dependencies required to construct the server.
type Config struct {
	ChainID  uint64
	Engine   *exchange.Engine
	State    *state.Manager
	Ledger   *bank.Ledger
	Policy   *policy.Registry
	Indexer  *indexer.Indexer
	Stream   *stream.Hub
	Metrics  *observability.ExchangeMetrics
	Admin    middleware.AuthConfig
	Limit    middleware.RateLimit
	Logger   *slog.Logger
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	// LogRequests enables one log line per HTTP request.
	LogRequests bool
}

// Server exposes the exchange engine over HTTP. Every state access is
// serialised by mu; successful mutations are committed before the response
// is written and their events are released to the sinks only after commit.
type Server struct {
	chainID uint64
	engine  *exchange.Engine
	state   *state.Manager
	ledger  *bank.Ledger
	policy  *policy.Registry
	indexer *indexer.Indexer
	stream  *stream.Hub
	metrics *observability.ExchangeMetrics
	logger  *slog.Logger

	mu      sync.Mutex
	pending *events.Buffer
	sinks   *events.Fanout

	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	gatherer prometheus.Gatherer
	router   http.Handler
}

// New wires the engine to the server's event pipeline and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.State == nil || cfg.Ledger == nil || cfg.Policy == nil {
		return nil, errors.New("server: engine, state, ledger and policy are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		chainID:  cfg.ChainID,
		engine:   cfg.Engine,
		state:    cfg.State,
		ledger:   cfg.Ledger,
		policy:   cfg.Policy,
		indexer:  cfg.Indexer,
		stream:   cfg.Stream,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		pending:  &events.Buffer{},
		auth:     middleware.NewAuthenticator(cfg.Admin, cfg.Logger),
		limiter:  middleware.NewRateLimiter(cfg.Limit),
		obs:      middleware.NewObservability(cfg.Registry, cfg.Logger, cfg.LogRequests),
		gatherer: cfg.Gatherer,
	}
	srv.sinks = events.NewFanout(logEmitter{logger: cfg.Logger}, metricsEmitter{metrics: cfg.Metrics})
	if cfg.Indexer != nil {
		srv.sinks.Add(cfg.Indexer)
	}
	if cfg.Stream != nil {
		srv.sinks.Add(cfg.Stream)
	}
	cfg.Engine.SetEmitter(srv.pending)
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.obs.Middleware)

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Post("/tx", s.SubmitTx)
		api.Get("/status", s.Status)
		api.Get("/offers/{id}", s.GetOffer)
		api.Get("/offers/{id}/assets", s.GetOfferAssets)
		api.Post("/offers/hash", s.HashOffer)
		api.Post("/offers/match", s.MatchOffers)
		api.Get("/hashes/{hash}", s.GetHash)
		api.Get("/traders/{address}", s.GetTrader)
		api.Get("/traders/{address}/offers", s.GetTraderOffers)
		api.Get("/balances/{address}", s.GetBalance)
		api.Get("/collections/{collection}/tokens/{id}", s.GetToken)
		api.Get("/partners", s.ListPartners)
		api.Get("/activity", s.ListActivity)
		if s.stream != nil {
			api.Method(http.MethodGet, "/stream", s.stream)
		}
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.auth.Middleware(middleware.ScopeAdmin))
		admin.Post("/trading", s.AdminSetTrading)
		admin.Post("/blacklist", s.AdminSetBlacklist)
		admin.Post("/tokens", s.AdminSetToken)
		admin.Post("/partners", s.AdminRegisterPartner)
		admin.Delete("/partners/{collection}", s.AdminRemovePartner)
		admin.Post("/mint", s.AdminMint)
	})

	return otelhttp.NewHandler(r, "exchanged")
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mutate runs fn under the state lock and commits on success. Events queued
// by the engine are delivered only once the commit succeeded. Staged writes
// never outlive a panic in fn.
func (s *Server) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.state.Discard()
			s.pending.Discard()
			panic(r)
		}
	}()
	if err := fn(); err != nil {
		s.state.Discard()
		s.pending.Discard()
		return err
	}
	if err := s.state.Commit(); err != nil {
		s.state.Discard()
		s.pending.Discard()
		return err
	}
	s.pending.Flush(s.sinks)
	if swapID, err := s.state.SwapID(); err == nil {
		s.metrics.SetRegisteredOffers(swapID)
	}
	return nil
}

// read runs fn under the state lock without committing.
func (s *Server) read(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", slog.String("error", err.Error()))
	}
}
