package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"condoscan/internal/rules"
)

// Params is a validated aggregation request: group-by tokens, metric
// tokens, and filters, all drawn from closed sets.
type Params struct {
	GroupBy []string
	Metrics []string
	Filters Filters
	// WantUnits marks the total_units post-processing join.
	WantUnits bool
}

// ParseParams validates raw query values into Params. Keys are expected in
// snake_case; the API contract middleware handles camelCase aliases before
// this point. The first violation aborts with a ValidationError naming the
// field.
func ParseParams(values url.Values) (*Params, error) {
	p := &Params{Filters: Filters{Limit: DefaultLimit}}

	for _, tok := range splitList(values["group_by"]) {
		if _, ok := groupSpecs[tok]; !ok {
			return nil, &ValidationError{Field: "group_by", Message: fmt.Sprintf("unknown token %q, valid: %s", tok, strings.Join(GroupByTokens(), ", "))}
		}
		p.GroupBy = append(p.GroupBy, tok)
	}
	// month and quarter share the internal year column and cannot be
	// grouped together.
	if contains(p.GroupBy, GroupMonth) && contains(p.GroupBy, GroupQuarter) {
		return nil, &ValidationError{Field: "group_by", Message: "month and quarter cannot be combined"}
	}

	for _, tok := range splitList(values["metrics"]) {
		if tok == MetricCount {
			continue // always included
		}
		if tok == MetricTotalUnits {
			p.WantUnits = true
			continue
		}
		if _, ok := metricExprs[tok]; !ok {
			return nil, &ValidationError{Field: "metrics", Message: fmt.Sprintf("unknown token %q, valid: %s", tok, strings.Join(MetricTokens(), ", "))}
		}
		p.Metrics = append(p.Metrics, tok)
	}
	if p.WantUnits && !contains(p.GroupBy, GroupProject) {
		return nil, &ValidationError{Field: "metrics", Message: "total_units requires group_by=project"}
	}

	for _, raw := range splitList(values["districts"]) {
		d, err := normalizeDistrict(raw)
		if err != nil {
			return nil, &ValidationError{Field: "districts", Message: err.Error()}
		}
		p.Filters.Districts = append(p.Filters.Districts, d)
	}
	for _, raw := range splitList(values["segments"]) {
		seg := strings.ToUpper(strings.TrimSpace(raw))
		if len(rules.SegmentDistricts(seg)) == 0 {
			return nil, &ValidationError{Field: "segments", Message: fmt.Sprintf("unknown segment %q, valid: CCR, RCR, OCR", raw)}
		}
		p.Filters.Segments = append(p.Filters.Segments, seg)
	}
	for _, raw := range splitList(values["bedrooms"]) {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 || n > 5 {
			return nil, &ValidationError{Field: "bedrooms", Message: fmt.Sprintf("%q is not in 1..5", raw)}
		}
		p.Filters.Bedrooms = append(p.Filters.Bedrooms, n)
	}

	if raw := values.Get("sale_type"); raw != "" {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "new sale":
			p.Filters.SaleType = "New Sale"
		case "resale":
			p.Filters.SaleType = "Resale"
		default:
			return nil, &ValidationError{Field: "sale_type", Message: fmt.Sprintf("%q is not New Sale or Resale", raw)}
		}
	}

	var err error
	if p.Filters.DateFrom, err = parseDateParam(values.Get("date_from")); err != nil {
		return nil, &ValidationError{Field: "date_from", Message: err.Error()}
	}
	if p.Filters.DateTo, err = parseDateParam(values.Get("date_to")); err != nil {
		return nil, &ValidationError{Field: "date_to", Message: err.Error()}
	}
	if !p.Filters.DateFrom.IsZero() && !p.Filters.DateTo.IsZero() && !p.Filters.DateTo.After(p.Filters.DateFrom) {
		return nil, &ValidationError{Field: "date_to", Message: "date_to must be after date_from"}
	}

	if p.Filters.PSFMin, err = parseFloatParam(values.Get("psf_min")); err != nil {
		return nil, &ValidationError{Field: "psf_min", Message: err.Error()}
	}
	if p.Filters.PSFMax, err = parseFloatParam(values.Get("psf_max")); err != nil {
		return nil, &ValidationError{Field: "psf_max", Message: err.Error()}
	}
	if p.Filters.SizeMin, err = parseFloatParam(values.Get("size_min")); err != nil {
		return nil, &ValidationError{Field: "size_min", Message: err.Error()}
	}
	if p.Filters.SizeMax, err = parseFloatParam(values.Get("size_max")); err != nil {
		return nil, &ValidationError{Field: "size_max", Message: err.Error()}
	}

	if raw := values.Get("tenure"); raw != "" {
		class, ok := normalizeTenureFilter(raw)
		if !ok {
			return nil, &ValidationError{Field: "tenure", Message: fmt.Sprintf("%q is not freehold, 99-year or 999-year", raw)}
		}
		p.Filters.TenureClass = class
	}

	p.Filters.Project = strings.TrimSpace(values.Get("project"))
	p.Filters.ProjectExact = strings.TrimSpace(values.Get("project_exact"))

	if raw := values.Get("property_age_bucket"); raw != "" {
		bucket := strings.ToLower(strings.TrimSpace(raw))
		if !contains(rules.AgeBuckets(), bucket) {
			return nil, &ValidationError{Field: "property_age_bucket", Message: fmt.Sprintf("unknown bucket %q, valid: %s", raw, strings.Join(rules.AgeBuckets(), ", "))}
		}
		p.Filters.PropertyAgeBucket = bucket
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxLimit {
			return nil, &ValidationError{Field: "limit", Message: fmt.Sprintf("%q is not in 1..%d", raw, MaxLimit)}
		}
		p.Filters.Limit = n
	}

	return p, nil
}

// splitList flattens repeated params and comma-separated values into one
// list, dropping empties.
func splitList(raws []string) []string {
	var out []string
	for _, raw := range raws {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// normalizeDistrict accepts "5", "05", "D5", "d05" and returns "D05".
func normalizeDistrict(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "D")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 28 {
		return "", fmt.Errorf("%q is not a district in D01..D28", raw)
	}
	return fmt.Sprintf("D%02d", n), nil
}

func parseDateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date", raw)
	}
	return t, nil
}

func parseFloatParam(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%q is not a non-negative number", raw)
	}
	return f, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
