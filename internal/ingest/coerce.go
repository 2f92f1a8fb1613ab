package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are the spellings accepted for sale dates across URA CSV
// extracts and API payloads. All parses normalize to first-of-month.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2-Jan-06",
	"02-Jan-06",
	"Jan-06",       // Mon-YY, the common URA batch download form
	"Jan 2006",     // Mon YYYY
	"January 2006", // Month YYYY
	"01/2006",
	"2006-01",
	"0106", // MMYY, URA API refPeriod form
}

// ParseSaleDate parses a tolerant set of date spellings and snaps the
// result to the first day of its month (URA publishes month-granular
// dates; day-of-month in any input is convention noise).
func ParseSaleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ParseDecimal parses a numeric field, stripping currency symbols,
// thousands separators and stray whitespace.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "S$")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable number %q", s)
	}
	return v, nil
}

// ParseDistrict normalizes district spellings ("1", "01", "D1", "D01")
// into the canonical D01..D28 form.
func ParseDistrict(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "D")
	n, err := strconv.Atoi(s)
	if err != nil {
		return "", fmt.Errorf("unparseable district %q", s)
	}
	if n < 1 || n > 28 {
		return "", fmt.Errorf("district %d out of range D01..D28", n)
	}
	return fmt.Sprintf("D%02d", n), nil
}

// NormalizeSaleType folds the sale-type spellings URA uses into the two
// canonical values. Sub sales are market resales for analytics purposes.
func NormalizeSaleType(s string) (string, error) {
	switch strings.ToLower(strings.Join(strings.Fields(s), " ")) {
	case "new sale", "new":
		return "New Sale", nil
	case "resale", "sub sale", "sub-sale":
		return "Resale", nil
	default:
		return "", fmt.Errorf("unknown sale type %q", s)
	}
}

// condoPropertyTypes are the property types this dataset covers. Rows of
// any other type (landed, strata landed, HDB-adjacent) are skipped, not
// rejected.
var condoPropertyTypes = map[string]bool{
	"condominium":           true,
	"apartment":             true,
	"executive condominium": true,
}

// IsCondoPropertyType reports whether a raw property-type value belongs in
// the dataset.
func IsCondoPropertyType(s string) bool {
	return condoPropertyTypes[strings.ToLower(strings.Join(strings.Fields(s), " "))]
}
