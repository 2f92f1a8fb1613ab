package query

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseParamsTokens(t *testing.T) {
	t.Parallel()

	p, err := ParseParams(url.Values{
		"group_by": {"region,district"},
		"metrics":  {"median_psf", "count", "avg_price"},
	})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if len(p.GroupBy) != 2 || p.GroupBy[0] != GroupRegion || p.GroupBy[1] != GroupDistrict {
		t.Fatalf("group_by = %v", p.GroupBy)
	}
	// count is implicit and never duplicated in Metrics.
	if len(p.Metrics) != 2 || p.Metrics[0] != MetricMedianPSF || p.Metrics[1] != MetricAvgPrice {
		t.Fatalf("metrics = %v", p.Metrics)
	}
	if p.Filters.Limit != DefaultLimit {
		t.Fatalf("limit = %d", p.Filters.Limit)
	}
}

func TestParseParamsRejectsUnknownTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		values url.Values
		field  string
	}{
		{"bad group token", url.Values{"group_by": {"postal_code"}}, "group_by"},
		{"sql in group token", url.Values{"group_by": {"region; DROP TABLE transactions"}}, "group_by"},
		{"bad metric", url.Values{"metrics": {"stddev_psf"}}, "metrics"},
		{"units without project", url.Values{"metrics": {"total_units"}, "group_by": {"district"}}, "metrics"},
		{"month with quarter", url.Values{"group_by": {"month,quarter"}}, "group_by"},
		{"bad district", url.Values{"districts": {"D29"}}, "districts"},
		{"bad segment", url.Values{"segments": {"CBD"}}, "segments"},
		{"bedroom out of range", url.Values{"bedrooms": {"7"}}, "bedrooms"},
		{"bad sale type", url.Values{"sale_type": {"Auction"}}, "sale_type"},
		{"bad date", url.Values{"date_from": {"Feb-24"}}, "date_from"},
		{"inverted range", url.Values{"date_from": {"2024-06-01"}, "date_to": {"2024-01-01"}}, "date_to"},
		{"bad tenure", url.Values{"tenure": {"103-year"}}, "tenure"},
		{"bad age bucket", url.Values{"property_age_bucket": {"ancient"}}, "property_age_bucket"},
		{"limit zero", url.Values{"limit": {"0"}}, "limit"},
		{"limit too high", url.Values{"limit": {"10001"}}, "limit"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseParams(tc.values)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestParseParamsNormalization(t *testing.T) {
	t.Parallel()

	p, err := ParseParams(url.Values{
		"districts": {"1", "d05", "D15"},
		"segments":  {"ocr"},
		"bedrooms":  {"2,3"},
		"sale_type": {"new sale"},
		"tenure":    {"99-year"},
		"date_from": {"2024-01-01"},
		"date_to":   {"2024-07-01"},
		"psf_min":   {"1500"},
		"limit":     {"50"},
	})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	f := p.Filters
	if f.Districts[0] != "D01" || f.Districts[1] != "D05" || f.Districts[2] != "D15" {
		t.Fatalf("districts = %v", f.Districts)
	}
	if len(f.Segments) != 1 || f.Segments[0] != "OCR" {
		t.Fatalf("segments = %v", f.Segments)
	}
	if f.SaleType != "New Sale" {
		t.Fatalf("sale_type = %q", f.SaleType)
	}
	if f.TenureClass != "99" {
		t.Fatalf("tenure_class = %q", f.TenureClass)
	}
	if f.Limit != 50 || f.PSFMin != 1500 {
		t.Fatalf("limit/psf_min = %d/%v", f.Limit, f.PSFMin)
	}
	applied := f.Applied()
	if _, ok := applied["tenure"]; !ok {
		t.Fatalf("filters_applied missing tenure: %v", applied)
	}
	if _, ok := applied["psf_max"]; ok {
		t.Fatalf("unset filter reported: %v", applied)
	}
}
