package gateway

import (
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"hydchain/core"
	"hydchain/gateway/middleware"
	"hydchain/integrations/exports"
	"hydchain/integrations/webhooks"
)

// Config carries the gateway's runtime knobs. The dispatcher is optional;
// when nil the snapshot route still writes files but skips notifications.
type Config struct {
	NetworkName   string
	ExportDir     string
	RatePerSecond float64
	RateBurst     int
	CORS          middleware.CORSConfig
	Dispatcher    *webhooks.Dispatcher
	LogRequests   bool
}

// Server exposes the read-only operations surface over a node: health,
// metrics, CSV exports, and parquet snapshot jobs.
type Server struct {
	node      *core.Node
	logger    *log.Logger
	network   string
	exportDir string
	dispatch  *webhooks.Dispatcher
	router    chi.Router
}

func NewServer(node *core.Node, cfg Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(cfg.ExportDir) == "" {
		cfg.ExportDir = "exports"
	}
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return nil, err
	}
	server := &Server{
		node:      node,
		logger:    logger,
		network:   cfg.NetworkName,
		exportDir: cfg.ExportDir,
		dispatch:  cfg.Dispatcher,
	}
	if cfg.Dispatcher != nil {
		// Liquidation events flow out as webhooks; the sink drops instead of
		// blocking, so the engine path never waits on delivery.
		node.SetEventSink(cfg.Dispatcher.ObserveEvent)
	}

	observability := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "hyd-gateway",
		LogRequests: cfg.LogRequests,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"api": {RatePerSecond: cfg.RatePerSecond, Burst: cfg.RateBurst},
	}, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.CORS(cfg.CORS))

	router.Method(http.MethodGet, "/healthz", observability.Middleware("healthz")(http.HandlerFunc(server.handleHealth)))
	router.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	router.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Middleware("api"))
		r.Method(http.MethodGet, "/status", observability.Middleware("status")(http.HandlerFunc(server.handleStatus)))
		r.Method(http.MethodGet, "/events", observability.Middleware("events")(http.HandlerFunc(server.handleEvents)))
		r.Method(http.MethodGet, "/holders.csv", observability.Middleware("holders_csv")(http.HandlerFunc(server.handleHoldersCSV)))
		r.Method(http.MethodGet, "/positions/export.csv", observability.Middleware("positions_csv")(http.HandlerFunc(server.handlePositionsCSV)))
		r.Method(http.MethodPost, "/positions/snapshot", observability.Middleware("positions_snapshot")(http.HandlerFunc(server.handleSnapshot)))
		r.Method(http.MethodGet, "/psm/receipts.csv", observability.Middleware("receipts_csv")(http.HandlerFunc(server.handleReceiptsCSV)))
	})
	server.router = router
	return server, nil
}

// Handler returns the mounted routes for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "network": s.network})
}

type statusResponse struct {
	Network        string `json:"network"`
	StableSymbol   string `json:"stableSymbol"`
	TotalSupply    string `json:"totalSupply"`
	AccrualIndex   string `json:"accrualIndex"`
	ReserveBalance string `json:"reserveBalance"`
	TotalMinted    string `json:"totalMinted"`
	FeeInBps       uint64 `json:"feeInBps"`
	FeeOutBps      uint64 `json:"feeOutBps"`
	OpenPositions  int    `json:"openPositions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	supply, err := s.node.TotalSupply()
	if err != nil {
		s.fail(w, err)
		return
	}
	index, err := s.node.AccrualIndex()
	if err != nil {
		s.fail(w, err)
		return
	}
	reserve, err := s.node.Reserve()
	if err != nil {
		s.fail(w, err)
		return
	}
	positions, err := s.node.Positions()
	if err != nil {
		s.fail(w, err)
		return
	}
	open := 0
	for _, position := range positions {
		if position.Open() {
			open++
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Network:        s.network,
		StableSymbol:   s.node.StableSymbol(),
		TotalSupply:    amountString(supply),
		AccrualIndex:   amountString(index),
		ReserveBalance: amountString(reserve.ReserveBalance),
		TotalMinted:    amountString(reserve.TotalMinted),
		FeeInBps:       reserve.FeeInBps,
		FeeOutBps:      reserve.FeeOutBps,
		OpenPositions:  open,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": s.node.Events(limit)})
}

func (s *Server) handleHoldersCSV(w http.ResponseWriter, r *http.Request) {
	holders, err := s.node.Holders()
	if err != nil {
		s.fail(w, err)
		return
	}
	data, checksum, err := exports.HoldersCSV(holders)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeCSV(w, "holders.csv", checksum, data)
}

func (s *Server) handlePositionsCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := s.positionEntries()
	if err != nil {
		s.fail(w, err)
		return
	}
	data, checksum, err := exports.PositionsCSV(entries)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeCSV(w, "positions.csv", checksum, data)
}

func (s *Server) handleReceiptsCSV(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")
	data, checksum, nextCursor, err := s.node.ExportReceiptsCSV(cursor, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("X-Next-Cursor", nextCursor)
	writeCSV(w, "receipts.csv", checksum, data)
}

type snapshotResponse struct {
	JobID       string    `json:"jobId"`
	Path        string    `json:"path"`
	Rows        int       `json:"rows"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// handleSnapshot writes a parquet export of every vault position to the spool
// directory and, when a dispatcher is wired, notifies downstream consumers.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	entries, err := s.positionEntries()
	if err != nil {
		s.fail(w, err)
		return
	}
	jobID := uuid.New().String()
	path := filepath.Join(s.exportDir, "positions-"+jobID+".parquet")
	rows, err := exports.PositionsParquet(path, entries)
	if err != nil {
		s.fail(w, err)
		return
	}
	generatedAt := time.Now().UTC()
	if s.dispatch != nil {
		if err := s.dispatch.EnqueueSnapshotReady(webhooks.SnapshotReadyPayload{
			JobID:       jobID,
			Path:        path,
			Rows:        rows,
			GeneratedAt: generatedAt,
		}); err != nil {
			s.logger.Printf("snapshot webhook enqueue failed: %v", err)
		}
	}
	writeJSON(w, http.StatusCreated, snapshotResponse{
		JobID:       jobID,
		Path:        path,
		Rows:        rows,
		GeneratedAt: generatedAt,
	})
}

func (s *Server) positionEntries() ([]exports.PositionEntry, error) {
	positions, err := s.node.Positions()
	if err != nil {
		return nil, err
	}
	entries := make([]exports.PositionEntry, 0, len(positions))
	for _, position := range positions {
		entry := exports.PositionEntry{Position: position}
		if position.Open() {
			if hf, err := s.node.HealthFactor(position.Owner, position.Asset); err == nil {
				entry.HealthFactorBps = hf
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Printf("gateway error: %v", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeCSV(w http.ResponseWriter, filename, checksum string, data []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("X-Checksum-Sha256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
