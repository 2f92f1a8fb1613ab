package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/query"

	"github.com/gorilla/mux"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Store is the repository surface the API reads from.
type Store interface {
	Ping(ctx context.Context) error
	ProductionRowCount(ctx context.Context) (int64, error)
	GetBatch(ctx context.Context, batchID string) (*models.BatchRecord, error)
	ListBatches(ctx context.Context, limit, offset int) ([]models.BatchRecord, error)
	LastCompletedBatch(ctx context.Context, dataset string) (*models.BatchRecord, error)
	GetPrecomputedStat(ctx context.Context, key string) (*models.PrecomputedStat, error)
	ListPrecomputedStats(ctx context.Context) ([]models.PrecomputedStat, error)
}

// Aggregator runs validated aggregation requests. Satisfied by
// *query.Engine.
type Aggregator interface {
	Aggregate(ctx context.Context, p *query.Params) (*query.Result, error)
}

type Server struct {
	store      Store
	engine     Aggregator
	cache      *resultCache
	httpServer *http.Server

	statusCache struct {
		mu        sync.Mutex
		payload   []byte
		expiresAt time.Time
	}
}

// Config carries the server knobs main resolves from the environment.
type Config struct {
	Port          string
	CacheMaxBytes int64
	CacheTTL      time.Duration
}

func NewServer(store Store, engine Aggregator, cfg Config) *Server {
	r := mux.NewRouter()

	s := &Server{
		store:  store,
		engine: engine,
		cache:  newResultCache(cfg.CacheMaxBytes, cfg.CacheTTL),
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws", s.handleWebSocket)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/aggregate", contractMiddleware("aggregate", aggregateContract, s.handleAggregate)).Methods("GET", "OPTIONS")
	v1.HandleFunc("/dashboard", contractMiddleware("dashboard", dashboardContract, s.handleDashboard)).Methods("GET", "OPTIONS")
	v1.HandleFunc("/batches", s.handleBatches).Methods("GET", "OPTIONS")
	v1.HandleFunc("/batches/{id}", s.handleBatch).Methods("GET", "OPTIONS")
	v1.HandleFunc("/snapshots", s.handleSnapshots).Methods("GET", "OPTIONS")
	v1.HandleFunc("/snapshots/{key}", s.handleSnapshot).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// FlushCache drops every cached aggregate. Called after a batch promotes.
func (s *Server) FlushCache() {
	s.cache.flush()
	s.statusCache.mu.Lock()
	s.statusCache.payload = nil
	s.statusCache.mu.Unlock()
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeAPIError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "commit": BuildCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.statusCache.mu.Lock()
	if now.Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		cached := append([]byte(nil), s.statusCache.payload...)
		s.statusCache.mu.Unlock()
		w.Write(cached)
		return
	}
	s.statusCache.mu.Unlock()

	payload, err := s.buildStatusPayload(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "status unavailable")
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(10 * time.Second)
	s.statusCache.mu.Unlock()

	w.Write(payload)
}

func (s *Server) buildStatusPayload(ctx context.Context) ([]byte, error) {
	totalRows, err := s.store.ProductionRowCount(ctx)
	if err != nil {
		totalRows = 0
	}

	var lastBatch any
	if b, err := s.store.LastCompletedBatch(ctx, "ura_monthly"); err == nil && b != nil {
		lastBatch = map[string]any{
			"batch_id":       b.BatchID,
			"completed_at":   b.CompletedAt,
			"rows_promoted":  b.RowsPromoted,
			"schema_version": b.SchemaVersion,
			"rules_version":  b.RulesVersion,
		}
	}

	snapshots := map[string]any{}
	if stats, err := s.store.ListPrecomputedStats(ctx); err == nil {
		for _, st := range stats {
			snapshots[st.StatKey] = map[string]any{
				"row_count":   st.RowCount,
				"computed_at": st.ComputedAt.UTC().Format(time.RFC3339),
			}
		}
	}

	resp := map[string]any{
		"status":             "ok",
		"total_transactions": totalRows,
		"last_batch":         lastBatch,
		"snapshots":          snapshots,
		"cache_entries":      s.cache.len(),
		"commit":             BuildCommit,
		"generated_at":       time.Now().UTC().Format(time.RFC3339),
	}
	return json.Marshal(resp)
}
