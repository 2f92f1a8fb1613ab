package query

import (
	"fmt"
	"sort"
	"strings"

	"condoscan/internal/rules"
)

// Group-by tokens. Every token maps to one or two fixed SQL expressions;
// user input selects from this set and never reaches the SQL text.
const (
	GroupDistrict   = "district"
	GroupBedroom    = "bedroom"
	GroupSaleType   = "sale_type"
	GroupProject    = "project"
	GroupYear       = "year"
	GroupMonth      = "month"
	GroupQuarter    = "quarter"
	GroupRegion     = "region"
	GroupFloorLevel = "floor_level"
	GroupAgeBand    = "age_band"
)

// Metric tokens.
const (
	MetricCount           = "count"
	MetricAvgPSF          = "avg_psf"
	MetricMedianPSF       = "median_psf"
	MetricTotalValue      = "total_value"
	MetricAvgPrice        = "avg_price"
	MetricMedianPrice     = "median_price"
	MetricMinPSF          = "min_psf"
	MetricMaxPSF          = "max_psf"
	MetricMinPrice        = "min_price"
	MetricMaxPrice        = "max_price"
	MetricAvgSize         = "avg_size"
	MetricTotalSqft       = "total_sqft"
	MetricPrice25th       = "price_25th"
	MetricPrice75th       = "price_75th"
	MetricPSF25th         = "psf_25th"
	MetricPSF75th         = "psf_75th"
	MetricMedianPSFActual = "median_psf_actual"
	// MetricTotalUnits is resolved in post-processing against the project
	// units side table, not in SQL. Only valid with group_by=project.
	MetricTotalUnits = "total_units"
)

// groupColumn is one output column of a group-by token. Internal columns
// exist only to carry raw year/month/quarter parts; the engine folds them
// into a formatted key and drops them from the response.
type groupColumn struct {
	Alias    string
	Expr     string
	Internal bool
}

var groupSpecs = map[string][]groupColumn{
	GroupDistrict:   {{Alias: "district", Expr: "district"}},
	GroupBedroom:    {{Alias: "bedroom", Expr: "bedroom_count"}},
	GroupSaleType:   {{Alias: "sale_type", Expr: "sale_type"}},
	GroupProject:    {{Alias: "project", Expr: "project_name"}},
	GroupRegion:     {{Alias: "region", Expr: "region"}},
	GroupFloorLevel: {{Alias: "floor_level", Expr: "COALESCE(floor_level, 'unknown')"}},
	GroupYear:       {{Alias: "year", Expr: "EXTRACT(YEAR FROM transaction_date)::int"}},
	GroupMonth: {
		{Alias: "_year", Expr: "EXTRACT(YEAR FROM transaction_date)::int", Internal: true},
		{Alias: "_month", Expr: "EXTRACT(MONTH FROM transaction_date)::int", Internal: true},
	},
	GroupQuarter: {
		{Alias: "_year", Expr: "EXTRACT(YEAR FROM transaction_date)::int", Internal: true},
		{Alias: "_quarter", Expr: "EXTRACT(QUARTER FROM transaction_date)::int", Internal: true},
	},
	GroupAgeBand: {{Alias: "age_band", Expr: ageBandExpr()}},
}

var metricExprs = map[string]string{
	MetricCount:           "COUNT(*)",
	MetricAvgPSF:          "AVG(psf)",
	MetricMedianPSF:       "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf)",
	MetricTotalValue:      "SUM(price)",
	MetricAvgPrice:        "AVG(price)",
	MetricMedianPrice:     "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY price)",
	MetricMinPSF:          "MIN(psf)",
	MetricMaxPSF:          "MAX(psf)",
	MetricMinPrice:        "MIN(price)",
	MetricMaxPrice:        "MAX(price)",
	MetricAvgSize:         "AVG(area_sqft)",
	MetricTotalSqft:       "SUM(area_sqft)",
	MetricPrice25th:       "PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY price)",
	MetricPrice75th:       "PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY price)",
	MetricPSF25th:         "PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY psf)",
	MetricPSF75th:         "PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY psf)",
	MetricMedianPSFActual: "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY price / NULLIF(area_sqft, 0))",
}

// GroupByTokens returns the closed set, sorted, for error messages and docs.
func GroupByTokens() []string {
	out := make([]string, 0, len(groupSpecs))
	for k := range groupSpecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MetricTokens returns the closed set including total_units.
func MetricTokens() []string {
	out := make([]string, 0, len(metricExprs)+1)
	for k := range metricExprs {
		out = append(out, k)
	}
	out = append(out, MetricTotalUnits)
	sort.Strings(out)
	return out
}

// ageBandExpr compiles the property-age classifier into a SQL CASE. The
// bucket strings and age ladder come from the rule registry's data, so SQL
// and in-process classification cannot drift apart.
func ageBandExpr() string {
	var b strings.Builder
	b.WriteString("CASE")
	fmt.Fprintf(&b, " WHEN sale_type = 'New Sale' THEN '%s'", rules.AgeBucketNew)
	fmt.Fprintf(&b, " WHEN lease_start_year IS NULL OR lease_start_year <= 0 THEN '%s'", rules.AgeBucketUnknown)
	age := "EXTRACT(YEAR FROM transaction_date)::int - lease_start_year"
	fmt.Fprintf(&b, " WHEN %s < 0 THEN '%s'", age, rules.AgeBucketUnknown)
	for _, t := range rules.AgeThresholds() {
		fmt.Fprintf(&b, " WHEN %s <= %d THEN '%s'", age, t.MaxAge, t.Bucket)
	}
	fmt.Fprintf(&b, " ELSE '%s' END", rules.AgeBucket21Plus)
	return b.String()
}
