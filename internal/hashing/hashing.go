// Package hashing provides the fingerprint primitives of the ingest
// pipeline: file SHA-256, header fingerprints, and the row hash that
// deduplicates transactions across batches and sources.
//
// The row hash is computed AFTER canonical normalization so that the same
// transaction arriving via CSV and via the API collapses to one hash:
//
//   - area is carried as round(area_sqft*100), an integer, to avoid float drift
//   - floor ranges "11 to 15" / "11 - 15" / "11–15" all normalize to "11-15"
//   - dates are formatted YYYY-MM-DD
//   - strings are trimmed and lowercased
//   - other numerics are formatted with %.6g
//
// Any change to these normalizations is a breaking change of the rules
// version: old and new hashes will not match and re-ingested files will
// double up in production.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FileSHA256 returns the streaming SHA-256 of the file at path, hex encoded.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HeaderFingerprint hashes a CSV header row into a short stable id:
// SHA-256 over the sorted, lowercased, whitespace-stripped header list,
// truncated to 16 hex chars.
func HeaderFingerprint(headers []string) string {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(h)))
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// NaturalKey is the field tuple that uniquely identifies a transaction.
type NaturalKey struct {
	ProjectName     string
	TransactionDate time.Time
	Price           float64
	AreaSqft        float64
	FloorRange      string
}

// RowHash returns the 32-hex dedup hash of a natural key.
func RowHash(k NaturalKey) string {
	parts := []string{
		CanonicalString(k.ProjectName),
		k.TransactionDate.Format("2006-01-02"),
		FormatNumeric(k.Price),
		fmt.Sprintf("%d", AreaX100(k.AreaSqft)),
		NormalizeFloorRange(k.FloorRange),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

// AreaX100 converts a square-foot area to its canonical integer form.
func AreaX100(area float64) int64 {
	return int64(math.Round(area * 100))
}

// CanonicalString trims and lowercases a string field for hashing.
func CanonicalString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FormatNumeric renders a numeric field in the canonical %.6g form.
func FormatNumeric(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

var floorSepRe = regexp.MustCompile(`(?i)\s*(?:to|-|–|—)\s*`)

// NormalizeFloorRange collapses the floor-range spellings seen in URA
// extracts ("11 to 15", "11 - 15", "11–15") into the canonical "11-15".
// Numeric bounds are zero-padded to two digits; basement bounds (B1) are
// uppercased. Unrecognized input is returned trimmed as-is.
func NormalizeFloorRange(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	parts := floorSepRe.Split(s, -1)
	if len(parts) != 2 {
		return s
	}
	lo, okLo := normalizeFloorBound(parts[0])
	hi, okHi := normalizeFloorBound(parts[1])
	if !okLo || !okHi {
		return s
	}
	return lo + "-" + hi
}

func normalizeFloorBound(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "B") {
		n, ok := parseFloorNumber(s[1:])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("B%d", n), true
	}
	n, ok := parseFloorNumber(s)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%02d", n), true
}

func parseFloorNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
