package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"condoscan/internal/query"

	"github.com/gorilla/mux"
)

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(canonicalParams(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}

	key := cacheKey("aggregate", params)
	if res, ok := s.cache.get(key); ok {
		writeAPIResponse(w, res.Data, metaMap(res.Meta), nil)
		return
	}

	res, err := s.engine.Aggregate(r.Context(), params)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cache.set(key, res)
	writeAPIResponse(w, res.Data, metaMap(res.Meta), nil)
}

// dashboardPanels are the fixed group-by/metric presets. Each panel runs
// the shared engine with the request's filters applied.
var dashboardPanels = map[string]url.Values{
	"median_psf_by_region": {"group_by": {"region"}, "metrics": {"median_psf"}},
	"monthly_volume":       {"group_by": {"month"}, "metrics": {"total_value"}},
	"quarterly_volume":     {"group_by": {"quarter"}},
	"by_bedroom":           {"group_by": {"bedroom"}, "metrics": {"median_psf", "avg_price"}},
	"by_district":          {"group_by": {"district"}, "metrics": {"median_psf"}},
	"top_projects":         {"group_by": {"project"}, "metrics": {"median_psf", "total_units"}},
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	base := canonicalParams(r)

	names := make([]string, 0, len(dashboardPanels))
	if requested := base["panels"]; len(requested) > 0 {
		for _, raw := range requested {
			for _, name := range strings.Split(raw, ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				if _, ok := dashboardPanels[name]; !ok {
					writeFieldError(w, http.StatusBadRequest, "panels", "unknown panel "+strconv.Quote(name))
					return
				}
				names = append(names, name)
			}
		}
	} else {
		for name := range dashboardPanels {
			names = append(names, name)
		}
	}

	panels := make(map[string]any, len(names))
	for _, name := range names {
		values := url.Values{}
		for k, v := range base {
			if k == "panels" || k == "group_by" || k == "metrics" {
				continue
			}
			values[k] = v
		}
		for k, v := range dashboardPanels[name] {
			values[k] = v
		}

		params, err := query.ParseParams(values)
		if err != nil {
			writeQueryError(w, err)
			return
		}

		key := cacheKey("dashboard/"+name, params)
		res, ok := s.cache.get(key)
		if !ok {
			res, err = s.engine.Aggregate(r.Context(), params)
			if err != nil {
				writeQueryError(w, err)
				return
			}
			s.cache.set(key, res)
		}
		panels[name] = map[string]any{"data": res.Data, "meta": metaMap(res.Meta)}
	}

	writeAPIResponse(w, panels, map[string]any{"panels": names}, nil)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	batches, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	writeAPIResponse(w, batches, map[string]any{
		"count":  len(batches),
		"limit":  limit,
		"offset": offset,
	}, nil)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	if b == nil {
		writeAPIError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeAPIResponse(w, b, nil, nil)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ListPrecomputedStats(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeAPIResponse(w, stats, map[string]any{"count": len(stats)}, nil)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	stat, err := s.store.GetPrecomputedStat(r.Context(), key)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if stat == nil {
		writeAPIError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	writeAPIResponse(w, stat, map[string]any{
		"computed_at": stat.ComputedAt,
		"row_count":   stat.RowCount,
	}, nil)
}

// metaMap converts the engine's meta block into the envelope's generic map.
func metaMap(m query.Meta) map[string]any {
	return map[string]any{
		"total_records":   m.TotalRecords,
		"filters_applied": m.FiltersApplied,
		"group_by":        m.GroupBy,
		"metrics":         m.Metrics,
		"elapsed_ms":      m.ElapsedMS,
		"cache_hit":       m.CacheHit,
	}
}

// writeQueryError maps the query layer's typed errors onto HTTP statuses.
// Driver details never reach the client.
func writeQueryError(w http.ResponseWriter, err error) {
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		writeFieldError(w, http.StatusBadRequest, ve.Field, ve.Message)
		return
	}
	var te *query.TimeoutError
	if errors.As(err, &te) {
		writeAPIError(w, http.StatusGatewayTimeout, te.Error())
		return
	}
	var qe *query.QueryExecutionError
	if errors.As(err, &qe) {
		writeAPIError(w, http.StatusInternalServerError, qe.Error())
		return
	}
	writeAPIError(w, http.StatusInternalServerError, "internal error")
}
