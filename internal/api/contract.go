package api

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// The API contract: per-endpoint parameter schemas. Each field names its
// canonical snake_case key plus the camelCase aliases older clients send.
// The middleware folds aliases onto canonical keys before handlers run; the
// query layer only ever sees canonical names.

type paramField struct {
	Canonical string
	Aliases   []string
}

var aggregateContract = []paramField{
	{Canonical: "group_by", Aliases: []string{"groupBy"}},
	{Canonical: "metrics"},
	{Canonical: "districts", Aliases: []string{"district"}},
	{Canonical: "segments", Aliases: []string{"segment"}},
	{Canonical: "bedrooms", Aliases: []string{"bedroom"}},
	{Canonical: "sale_type", Aliases: []string{"saleType"}},
	{Canonical: "date_from", Aliases: []string{"dateFrom", "from"}},
	{Canonical: "date_to", Aliases: []string{"dateTo", "to"}},
	{Canonical: "psf_min", Aliases: []string{"psfMin"}},
	{Canonical: "psf_max", Aliases: []string{"psfMax"}},
	{Canonical: "size_min", Aliases: []string{"sizeMin"}},
	{Canonical: "size_max", Aliases: []string{"sizeMax"}},
	{Canonical: "tenure"},
	{Canonical: "project"},
	{Canonical: "project_exact", Aliases: []string{"projectExact"}},
	{Canonical: "property_age_bucket", Aliases: []string{"propertyAgeBucket", "age_bucket"}},
	{Canonical: "limit"},
}

var dashboardContract = append([]paramField{
	{Canonical: "panels", Aliases: []string{"panel"}},
}, aggregateContract...)

type contextKey string

const paramsContextKey contextKey = "canonical_params"

// contractEnforced reads the violation policy once per request. warn mode
// logs and drops unknown params; enforce mode rejects the request.
func contractEnforced() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("API_CONTRACT_MODE")), "enforce")
}

// contractMiddleware normalizes an endpoint's query params against its
// declared schema and attaches the canonical set to the request context.
func contractMiddleware(endpoint string, fields []paramField, next http.HandlerFunc) http.HandlerFunc {
	canonical := make(map[string]string, len(fields)*2)
	for _, f := range fields {
		canonical[f.Canonical] = f.Canonical
		for _, a := range f.Aliases {
			canonical[a] = f.Canonical
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		params := url.Values{}
		var unknown []string
		for key, vals := range r.URL.Query() {
			target, ok := canonical[key]
			if !ok {
				unknown = append(unknown, key)
				continue
			}
			params[target] = append(params[target], vals...)
		}

		if len(unknown) > 0 {
			if contractEnforced() {
				writeFieldError(w, http.StatusBadRequest, unknown[0],
					"unknown parameter for "+endpoint)
				return
			}
			log.Printf("[api] %s: ignoring unknown params %v", endpoint, unknown)
		}

		ctx := context.WithValue(r.Context(), paramsContextKey, params)
		next(w, r.WithContext(ctx))
	}
}

// canonicalParams retrieves the middleware's normalized params, falling
// back to the raw query for routes registered without the middleware.
func canonicalParams(r *http.Request) url.Values {
	if v, ok := r.Context().Value(paramsContextKey).(url.Values); ok {
		return v
	}
	return r.URL.Query()
}
