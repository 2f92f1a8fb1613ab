package hashing

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeFloorRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "11-15", want: "11-15"},
		{name: "to separator", in: "11 to 15", want: "11-15"},
		{name: "spaced hyphen", in: "11 - 15", want: "11-15"},
		{name: "en dash", in: "11–15", want: "11-15"},
		{name: "zero pad", in: "1-5", want: "01-05"},
		{name: "basement", in: "b1 to b5", want: "B1-B5"},
		{name: "empty", in: "", want: ""},
		{name: "garbage passthrough", in: "penthouse", want: "penthouse"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeFloorRange(tc.in); got != tc.want {
				t.Fatalf("NormalizeFloorRange(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRowHashStableAcrossFloorSpellings(t *testing.T) {
	t.Parallel()

	base := NaturalKey{
		ProjectName:     "The Continuum",
		TransactionDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Price:           2150000,
		AreaSqft:        1001.67,
		FloorRange:      "11-15",
	}
	want := RowHash(base)
	if len(want) != 32 {
		t.Fatalf("RowHash length = %d, want 32", len(want))
	}

	for _, spelling := range []string{"11 to 15", "11 - 15", "11–15"} {
		k := base
		k.FloorRange = spelling
		if got := RowHash(k); got != want {
			t.Fatalf("RowHash with floor %q = %s, want %s", spelling, got, want)
		}
	}

	// Case and whitespace of the project name must not matter either.
	k := base
	k.ProjectName = "  THE CONTINUUM "
	if got := RowHash(k); got != want {
		t.Fatalf("RowHash with shouty project name = %s, want %s", got, want)
	}
}

func TestRowHashDistinguishesKeys(t *testing.T) {
	t.Parallel()

	a := NaturalKey{ProjectName: "Pinetree Hill", TransactionDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Price: 1500000, AreaSqft: 700, FloorRange: "06-10"}
	b := a
	b.AreaSqft = 700.01 // differs at the x100 grain
	if RowHash(a) == RowHash(b) {
		t.Fatal("keys differing by 0.01 sqft must not collide")
	}

	c := a
	c.AreaSqft = 700.001 // below the x100 grain, collapses
	if RowHash(a) != RowHash(c) {
		t.Fatal("sub-cent area noise must collapse to the same hash")
	}
}

func TestAreaX100(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want int64
	}{
		{in: 1001.67, want: 100167},
		{in: 700, want: 70000},
		{in: 699.995, want: 70000}, // rounds, does not truncate
		{in: 0.004, want: 0},
	}
	for _, tc := range cases {
		if got := AreaX100(tc.in); got != tc.want {
			t.Fatalf("AreaX100(%v)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestHeaderFingerprint(t *testing.T) {
	t.Parallel()

	a := HeaderFingerprint([]string{"Project Name", "Sale Date", "Price"})
	b := HeaderFingerprint([]string{"price ", "  project name", "SALE DATE"})
	if a != b {
		t.Fatalf("fingerprint must be order/case/space insensitive: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("fingerprint length = %d, want 16", len(a))
	}
	c := HeaderFingerprint([]string{"Project Name", "Sale Date"})
	if a == c {
		t.Fatal("different header sets must not share a fingerprint")
	}
}

func TestFormatNumeric(t *testing.T) {
	t.Parallel()

	if got := FormatNumeric(2150000); got != "2.15e+06" {
		t.Fatalf("FormatNumeric(2150000)=%q", got)
	}
	if got := FormatNumeric(1234.5); got != "1234.5" {
		t.Fatalf("FormatNumeric(1234.5)=%q", got)
	}
	if strings.Contains(FormatNumeric(0.1+0.2), "0.30000000000000004") {
		t.Fatalf("%%.6g must absorb float drift")
	}
}
