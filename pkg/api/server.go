package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/store"
	"github.com/cuemby/sentinel/pkg/types"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	defaultPriceHours = 1
	maxPriceHours     = 24
)

// Source is the live agent state behind the read endpoints.
type Source interface {
	Latest() *types.Snapshot
	Since(t time.Time) []*types.Snapshot
	Counters() (threats, actions uint64)
}

// Admin exposes the manual demo and recovery routines.
type Admin interface {
	SimulateAttack(ctx context.Context) AttackResult
	ResetAMM(ctx context.Context) ResetResult
	UnpauseAll(ctx context.Context) error
}

// AttackResult is the outcome of the demo attack routine.
type AttackResult struct {
	Success     bool    `json:"success"`
	Blocked     bool    `json:"blocked"`
	Message     string  `json:"message"`
	TxHash      string  `json:"tx_hash,omitempty"`
	PriceBefore float64 `json:"price_before,omitempty"`
	PriceAfter  float64 `json:"price_after,omitempty"`
}

// ResetResult is the outcome of the manual restore routine.
type ResetResult struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	NewPrice float64 `json:"new_price,omitempty"`
	TxHash   string  `json:"tx_hash,omitempty"`
}

// Server is the dashboard-facing HTTP and WebSocket surface.
type Server struct {
	store  *store.Store
	broker *events.Broker
	source Source
	admin  Admin
	logger zerolog.Logger

	httpServer *http.Server
}

// New builds a server on the given listen address.
func New(addr string, st *store.Store, broker *events.Broker, source Source, admin Admin) *Server {
	s := &Server{
		store:  st,
		broker: broker,
		source: source,
		admin:  admin,
		logger: log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/threats", s.handleThreats)
	mux.HandleFunc("/api/events/actions", s.handleActions)
	mux.HandleFunc("/api/prices", s.handlePrices)
	mux.HandleFunc("/api/admin/simulate-attack", s.handleSimulateAttack)
	mux.HandleFunc("/api/admin/reset-amm", s.handleResetAMM)
	mux.HandleFunc("/api/admin/unpause", s.handleUnpause)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.instrument(corsMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
	metrics.RegisterComponent("api", true, "")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// The hijacked connection never writes a status through the recorder.
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the structured error shape of every non-2xx response.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use "+method)
		return false
	}
	return true
}

// statsResponse mirrors what the dashboard polls every few seconds.
type statsResponse struct {
	TotalEvents         uint64  `json:"total_events"`
	ThreatsDetected     uint64  `json:"threats_detected"`
	ActionsTaken        uint64  `json:"actions_taken"`
	CurrentOraclePrice  float64 `json:"current_oracle_price"`
	CurrentAMMPrice     float64 `json:"current_amm_price"`
	PriceDeviation      float64 `json:"price_deviation"`
	AMMPaused           bool    `json:"amm_paused"`
	VaultPaused         bool    `json:"vault_paused"`
	LiquidationsBlocked bool    `json:"liquidations_blocked"`
	LastUpdate          string  `json:"last_update_iso"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	resp := statsResponse{TotalEvents: s.store.Total()}
	resp.ThreatsDetected, resp.ActionsTaken = s.source.Counters()
	if snap := s.source.Latest(); snap != nil {
		resp.CurrentOraclePrice = types.PriceFloat(snap.OraclePrice)
		resp.CurrentAMMPrice = types.PriceFloat(snap.AMMSpotPrice)
		resp.PriceDeviation = snap.DeviationPct()
		resp.AMMPaused = snap.AMMPaused
		resp.VaultPaused = snap.VaultPaused
		resp.LiquidationsBlocked = snap.LiquidationsBlocked
		resp.LastUpdate = snap.Timestamp.Format(time.RFC3339)
	}
	writeJSON(w, resp)
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxEventLimit {
		n = maxEventLimit
	}
	return n, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return
	}

	// from enables subscriber resync after a websocket drop.
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "from must be a non-negative integer")
			return
		}
		writeJSON(w, s.store.Range(from, limit))
		return
	}
	writeJSON(w, s.store.Recent(limit))
}

func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return
	}
	threats := s.store.ByKind(limit, func(ev types.Event) bool {
		return ev.Reasoning != nil && ev.Reasoning.Classification != types.ClassNatural
	}, types.EventReasoning)
	writeJSON(w, threats)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return
	}
	writeJSON(w, s.store.ByKind(limit, nil, types.EventAction))
}

// pricePoint is one sample of the dashboard price chart.
type pricePoint struct {
	Timestamp    string  `json:"timestamp"`
	OraclePrice  float64 `json:"oracle_price"`
	AMMPrice     float64 `json:"amm_price"`
	DeviationPct float64 `json:"price_deviation"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	hours := defaultPriceHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "hours must be a positive integer")
			return
		}
		hours = n
		if hours > maxPriceHours {
			hours = maxPriceHours
		}
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	points := []pricePoint{}
	for _, snap := range s.source.Since(since) {
		points = append(points, pricePoint{
			Timestamp:    snap.Timestamp.Format(time.RFC3339),
			OraclePrice:  types.PriceFloat(snap.OraclePrice),
			AMMPrice:     types.PriceFloat(snap.AMMSpotPrice),
			DeviationPct: snap.DeviationPct(),
		})
	}
	writeJSON(w, points)
}

func (s *Server) handleSimulateAttack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, s.admin.SimulateAttack(r.Context()))
}

func (s *Server) handleResetAMM(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, s.admin.ResetAMM(r.Context()))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.admin.UnpauseAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "chain_error", err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}
