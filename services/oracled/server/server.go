package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"reefchain/native/oracle"
	"reefchain/services/oracled/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	AdminCaller   [20]byte
	TwapPeriod    time.Duration
	RateLimit     RateLimit
	TLS           TLSConfig
}

// TLSConfig describes TLS settings for the server.
type TLSConfig struct {
	Disabled bool
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Engine bundles the price engine components the server exposes.
type Engine struct {
	Resolver *oracle.Resolver
	History  *oracle.History
	Registry *oracle.Registry
	Admin    *oracle.Admin
}

// Server hosts read, admin and health endpoints for oracled.
type Server struct {
	cfg       Config
	engine    Engine
	audit     *storage.Storage
	logger    *slog.Logger
	adminAuth *Authenticator
	limiter   *rateLimiter
}

// New constructs a new HTTP server.
func New(cfg Config, engine Engine, audit *storage.Storage, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if engine.Resolver == nil || engine.History == nil || engine.Registry == nil || engine.Admin == nil {
		return nil, fmt.Errorf("price engine required")
	}
	if auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TwapPeriod <= 0 {
		cfg.TwapPeriod = 24 * time.Hour
	}
	return &Server{
		cfg:       cfg,
		engine:    engine,
		audit:     audit,
		logger:    logger,
		adminAuth: auth,
		limiter:   newRateLimiter(cfg.RateLimit),
	}, nil
}

// Handler builds the routing table. Exposed so tests can drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "oracled.health"))
	mux.Handle("/v1/price", otelhttp.NewHandler(s.limiter.middleware(http.HandlerFunc(s.handlePrice)), "oracled.price"))
	mux.Handle("/v1/twap", otelhttp.NewHandler(s.limiter.middleware(http.HandlerFunc(s.handleTWAP)), "oracled.twap"))
	mux.Handle("/v1/snapshot", otelhttp.NewHandler(s.limiter.middleware(http.HandlerFunc(s.handleSnapshot)), "oracled.snapshot"))
	mux.Handle("/v1/sources", otelhttp.NewHandler(s.limiter.middleware(http.HandlerFunc(s.handleSources)), "oracled.sources"))
	mux.Handle("/admin/sources/register", otelhttp.NewHandler(s.requireAdmin(http.HandlerFunc(s.handleRegister)), "oracled.register"))
	mux.Handle("/admin/sources/deactivate", otelhttp.NewHandler(s.requireAdmin(http.HandlerFunc(s.handleDeactivate)), "oracled.deactivate"))
	mux.Handle("/admin/feeds", otelhttp.NewHandler(s.requireAdmin(http.HandlerFunc(s.handleFeeds)), "oracled.feeds"))
	mux.Handle("/admin/staleness", otelhttp.NewHandler(s.requireAdmin(http.HandlerFunc(s.handleStaleness)), "oracled.staleness"))
	mux.Handle("/admin/custom-price", otelhttp.NewHandler(s.requireAdmin(http.HandlerFunc(s.handleCustomPrice)), "oracled.custom"))
	return mux
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Handler(), TLSConfig: s.cfg.TLS.Config}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	var err error
	if s.cfg.TLS.Disabled {
		err = srv.ListenAndServe()
	} else {
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if s.adminAuth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
		})
	}
	return s.adminAuth.Middleware(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type observationResponse struct {
	Pair       string `json:"pair"`
	Price      string `json:"price"`
	Decimals   uint8  `json:"decimals"`
	Timestamp  int64  `json:"timestamp"`
	Confidence string `json:"confidence,omitempty"`
	Kind       string `json:"kind"`
}

func observationPayload(pair oracle.Pair, obs oracle.PriceObservation) observationResponse {
	resp := observationResponse{
		Pair:      pair.Key(),
		Price:     obs.Price.String(),
		Decimals:  obs.Decimals,
		Timestamp: obs.Timestamp,
		Kind:      obs.Kind.String(),
	}
	if obs.Confidence != nil {
		resp.Confidence = obs.Confidence.String()
	}
	return resp
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pair, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	obs, err := s.engine.Resolver.Resolve(pair)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observationPayload(pair, obs))
}

func (s *Server) handleTWAP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pair, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	period := s.cfg.TwapPeriod
	if raw := strings.TrimSpace(r.URL.Query().Get("period")); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			http.Error(w, "period must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		period = time.Duration(seconds) * time.Second
	}
	obs, err := s.engine.History.TWAP(pair, period)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observationPayload(pair, obs))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.audit == nil {
		http.Error(w, "audit trail not configured", http.StatusNotFound)
		return
	}
	pair, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	snap, err := s.audit.LatestSnapshot(r.Context(), pair.Key())
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		s.logger.Error("latest snapshot", "pair", pair.String(), "error", err)
		http.Error(w, "snapshot lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          snap.ID,
		"pair":        snap.Pair,
		"price":       snap.Price,
		"decimals":    snap.Decimals,
		"kind":        snap.Kind,
		"observed_at": snap.ObservedAtUnix,
		"recorded_at": snap.RecordedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pair, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	descriptors, err := s.engine.Registry.Sources(pair)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, map[string]any{
			"source_ref": desc.SourceRef,
			"kind":       desc.Kind.String(),
			"heartbeat":  desc.Heartbeat,
			"priority":   desc.Priority,
			"active":     desc.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": pair.Key(), "sources": out})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Base      string `json:"base"`
		Quote     string `json:"quote"`
		SourceRef string `json:"source_ref"`
		Kind      string `json:"kind"`
		Heartbeat uint64 `json:"heartbeat"`
		Priority  uint8  `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	pair, err := oracle.NewPair(req.Base, req.Quote)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := oracle.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	descriptor := oracle.SourceDescriptor{
		SourceRef: strings.TrimSpace(req.SourceRef),
		Kind:      kind,
		Heartbeat: req.Heartbeat,
		Priority:  req.Priority,
		Active:    true,
	}
	if err := s.engine.Registry.Register(s.cfg.AdminCaller, pair, descriptor); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Base      string `json:"base"`
		Quote     string `json:"quote"`
		SourceRef string `json:"source_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	pair, err := oracle.NewPair(req.Base, req.Quote)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.Registry.Deactivate(s.cfg.AdminCaller, pair, req.SourceRef); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token   string   `json:"token"`
		FeedID  string   `json:"feed_id"`
		Tokens  []string `json:"tokens"`
		FeedIDs []string `json:"feed_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var err error
	switch {
	case len(req.Tokens) > 0 || len(req.FeedIDs) > 0:
		err = s.engine.Admin.SetFeedIDBatch(s.cfg.AdminCaller, req.Tokens, req.FeedIDs)
	default:
		err = s.engine.Admin.SetFeedID(s.cfg.AdminCaller, req.Token, req.FeedID)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Base          string `json:"base"`
		Quote         string `json:"quote"`
		MaxAgeSeconds int64  `json:"max_age_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	pair, err := oracle.NewPair(req.Base, req.Quote)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second
	if err := s.engine.Admin.SetStalenessThreshold(s.cfg.AdminCaller, pair, maxAge); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCustomPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Base     string `json:"base"`
		Quote    string `json:"quote"`
		Price    string `json:"price"`
		Decimals uint8  `json:"decimals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	pair, err := oracle.NewPair(req.Base, req.Quote)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	price := new(big.Int)
	if _, ok := price.SetString(strings.TrimSpace(req.Price), 10); !ok {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}
	if err := s.engine.Admin.SetCustomPrice(s.cfg.AdminCaller, pair, price, req.Decimals); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, oracle.ErrNoPriceFeed):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrStalePrice):
		status = http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrInvalidOracle):
		status = http.StatusBadRequest
	case errors.Is(err, oracle.ErrMaxOraclesReached):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrUnauthorized):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("engine error", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func pairFromQuery(w http.ResponseWriter, r *http.Request) (oracle.Pair, bool) {
	pair, err := oracle.NewPair(r.URL.Query().Get("base"), r.URL.Query().Get("quote"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return oracle.Pair{}, false
	}
	return pair, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
