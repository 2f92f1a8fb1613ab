package query

import (
	"fmt"
	"strings"
	"time"

	"condoscan/internal/rules"
)

// MaxLimit bounds the row count of any aggregation response.
const MaxLimit = 10000

// DefaultLimit applies when the caller does not pass one.
const DefaultLimit = 1000

// Filters holds the normalized optional predicates of an aggregation
// request. Zero values mean "not set". Every field maps to a parameterized
// predicate; values travel as query args, never as SQL text.
type Filters struct {
	Districts         []string
	Bedrooms          []int
	Segments          []string
	SaleType          string
	DateFrom          time.Time
	DateTo            time.Time // exclusive
	PSFMin            float64
	PSFMax            float64
	SizeMin           float64
	SizeMax           float64
	TenureClass       string
	Project           string // substring match
	ProjectExact      string
	PropertyAgeBucket string
	Limit             int
}

// predicates compiles the filter set into WHERE fragments plus their args.
// The outlier fence is always present: soft-deleted rows are invisible to
// every aggregation.
func (f *Filters) predicates() ([]string, []any) {
	preds := []string{"is_outlier = FALSE"}
	var args []any

	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Districts) > 0 {
		preds = append(preds, "district = ANY("+place(f.Districts)+")")
	}
	if len(f.Segments) > 0 {
		var districts []string
		for _, seg := range f.Segments {
			districts = append(districts, rules.SegmentDistricts(seg)...)
		}
		preds = append(preds, "district = ANY("+place(districts)+")")
	}
	if len(f.Bedrooms) > 0 {
		preds = append(preds, "bedroom_count = ANY("+place(f.Bedrooms)+")")
	}
	if f.SaleType != "" {
		preds = append(preds, "sale_type = "+place(f.SaleType))
	}
	if !f.DateFrom.IsZero() {
		preds = append(preds, "transaction_date >= "+place(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		preds = append(preds, "transaction_date < "+place(f.DateTo))
	}
	if f.PSFMin > 0 {
		preds = append(preds, "psf >= "+place(f.PSFMin))
	}
	if f.PSFMax > 0 {
		preds = append(preds, "psf <= "+place(f.PSFMax))
	}
	if f.SizeMin > 0 {
		preds = append(preds, "area_sqft >= "+place(f.SizeMin))
	}
	if f.SizeMax > 0 {
		preds = append(preds, "area_sqft <= "+place(f.SizeMax))
	}
	if f.TenureClass != "" {
		preds = append(preds, "tenure_class = "+place(f.TenureClass))
	}
	if f.ProjectExact != "" {
		preds = append(preds, "LOWER(project_name) = LOWER("+place(f.ProjectExact)+")")
	} else if f.Project != "" {
		preds = append(preds, "project_name ILIKE "+place("%"+escapeLike(f.Project)+"%"))
	}
	if f.PropertyAgeBucket != "" {
		preds = append(preds, ageBandExpr()+" = "+place(f.PropertyAgeBucket))
	}
	return preds, args
}

// Applied reports the non-empty filters for the response meta block.
func (f *Filters) Applied() map[string]any {
	out := make(map[string]any)
	if len(f.Districts) > 0 {
		out["districts"] = f.Districts
	}
	if len(f.Segments) > 0 {
		out["segments"] = f.Segments
	}
	if len(f.Bedrooms) > 0 {
		out["bedrooms"] = f.Bedrooms
	}
	if f.SaleType != "" {
		out["sale_type"] = f.SaleType
	}
	if !f.DateFrom.IsZero() {
		out["date_from"] = f.DateFrom.Format("2006-01-02")
	}
	if !f.DateTo.IsZero() {
		out["date_to"] = f.DateTo.Format("2006-01-02")
	}
	if f.PSFMin > 0 {
		out["psf_min"] = f.PSFMin
	}
	if f.PSFMax > 0 {
		out["psf_max"] = f.PSFMax
	}
	if f.SizeMin > 0 {
		out["size_min"] = f.SizeMin
	}
	if f.SizeMax > 0 {
		out["size_max"] = f.SizeMax
	}
	if f.TenureClass != "" {
		out["tenure"] = f.TenureClass
	}
	if f.ProjectExact != "" {
		out["project_exact"] = f.ProjectExact
	} else if f.Project != "" {
		out["project"] = f.Project
	}
	if f.PropertyAgeBucket != "" {
		out["property_age_bucket"] = f.PropertyAgeBucket
	}
	return out
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied substring.
// The value still travels as a parameter; this only stops % and _ from
// acting as wildcards.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// normalizeTenureFilter maps accepted spellings onto the stored
// tenure_class values.
func normalizeTenureFilter(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "freehold":
		return rules.TenureFreehold, true
	case "99", "99-year", "99 years", "leasehold":
		return rules.Tenure99, true
	case "999", "999-year", "999 years":
		return rules.Tenure999, true
	}
	return "", false
}
