package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/query"
)

type fakeStore struct {
	batches map[string]*models.BatchRecord
	stats   []models.PrecomputedStat
	rows    int64
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) ProductionRowCount(context.Context) (int64, error) { return f.rows, nil }

func (f *fakeStore) GetBatch(_ context.Context, id string) (*models.BatchRecord, error) {
	return f.batches[id], nil
}

func (f *fakeStore) ListBatches(context.Context, int, int) ([]models.BatchRecord, error) {
	var out []models.BatchRecord
	for _, b := range f.batches {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeStore) LastCompletedBatch(context.Context, string) (*models.BatchRecord, error) {
	return nil, nil
}

func (f *fakeStore) GetPrecomputedStat(_ context.Context, key string) (*models.PrecomputedStat, error) {
	for i := range f.stats {
		if f.stats[i].StatKey == key {
			return &f.stats[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListPrecomputedStats(context.Context) ([]models.PrecomputedStat, error) {
	return f.stats, nil
}

type fakeEngine struct {
	calls int
	err   error
}

func (f *fakeEngine) Aggregate(_ context.Context, p *query.Params) (*query.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &query.Result{
		Data: []map[string]any{{"region": "CCR", "count": int64(2)}},
		Meta: query.Meta{
			TotalRecords:   1,
			GroupBy:        p.GroupBy,
			Metrics:        append([]string{query.MetricCount}, p.Metrics...),
			FiltersApplied: p.Filters.Applied(),
		},
	}, nil
}

func newTestServer(engine Aggregator) *Server {
	return NewServer(&fakeStore{rows: 6}, engine, Config{Port: "0", CacheMaxBytes: 1 << 20, CacheTTL: time.Minute})
}

func do(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (data any, meta map[string]any, errBlock map[string]any) {
	t.Helper()
	var env struct {
		Meta  map[string]any `json:"_meta"`
		Data  any            `json:"data"`
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v (%s)", err, rec.Body.String())
	}
	return env.Data, env.Meta, env.Error
}

func TestAggregateEndpoint(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(engine)

	rec := do(s, "/api/v1/aggregate?group_by=region&metrics=median_psf")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data, meta, _ := decodeEnvelope(t, rec)
	rows, ok := data.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("data = %v", data)
	}
	if meta["cache_hit"] != false {
		t.Fatalf("first call must miss cache: %v", meta)
	}
	if meta["schema_version"] != apiSchemaVersion {
		t.Fatalf("meta missing schema_version: %v", meta)
	}

	// Same canonical params, different spelling: cache hit, no engine call.
	rec = do(s, "/api/v1/aggregate?groupBy=region&metrics=median_psf")
	_, meta, _ = decodeEnvelope(t, rec)
	if meta["cache_hit"] != true {
		t.Fatalf("second call must hit cache: %v", meta)
	}
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.calls)
	}
}

func TestAggregateEndpointValidation(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	rec := do(s, "/api/v1/aggregate?group_by=postal_code")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	_, _, errBlock := decodeEnvelope(t, rec)
	if errBlock["field"] != "group_by" {
		t.Fatalf("error = %v", errBlock)
	}
}

func TestAggregateEndpointTimeout(t *testing.T) {
	s := newTestServer(&fakeEngine{err: &query.TimeoutError{Elapsed: "15s"}})

	rec := do(s, "/api/v1/aggregate?group_by=region")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestContractModeEnforce(t *testing.T) {
	t.Setenv("API_CONTRACT_MODE", "enforce")
	s := newTestServer(&fakeEngine{})

	rec := do(s, "/api/v1/aggregate?group_by=region&bogus_param=1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("enforce mode must reject unknown params, got %d", rec.Code)
	}

	t.Setenv("API_CONTRACT_MODE", "warn")
	rec = do(s, "/api/v1/aggregate?group_by=region&bogus_param=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("warn mode must drop unknown params, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFlushCacheAfterPromotion(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(engine)

	do(s, "/api/v1/aggregate?group_by=region")
	do(s, "/api/v1/aggregate?group_by=region")
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1 before flush", engine.calls)
	}

	s.FlushCache()
	do(s, "/api/v1/aggregate?group_by=region")
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2 after flush", engine.calls)
	}
}

func TestDashboardUnknownPanel(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	rec := do(s, "/api/v1/dashboard?panels=nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDashboardPanels(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(engine)

	rec := do(s, "/api/v1/dashboard?panels=median_psf_by_region,by_bedroom&districts=D01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data, _, _ := decodeEnvelope(t, rec)
	panels, ok := data.(map[string]any)
	if !ok || len(panels) != 2 {
		t.Fatalf("panels = %v", data)
	}
	if _, ok := panels["median_psf_by_region"]; !ok {
		t.Fatalf("missing panel: %v", panels)
	}
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", engine.calls)
	}
}

func TestBatchNotFound(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	rec := do(s, "/api/v1/batches/00000000-0000-0000-0000-000000000000")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	if rec := do(s, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec := do(s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if payload["total_transactions"] != float64(6) {
		t.Fatalf("total_transactions = %v", payload["total_transactions"])
	}
}
