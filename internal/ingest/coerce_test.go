package ingest

import (
	"testing"
)

func TestParseSaleDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Dec-20", want: "2020-12-01"},
		{in: "Feb-24", want: "2024-02-01"}, // leap February still snaps to day 1
		{in: "January 2024", want: "2024-01-01"},
		{in: "Jan 2024", want: "2024-01-01"},
		{in: "2024-03-15", want: "2024-03-01"},
		{in: "2024/03/02", want: "2024-03-01"},
		{in: "15-Dec-20", want: "2020-12-01"},
		{in: "03/2024", want: "2024-03-01"},
		{in: "2024-03", want: "2024-03-01"},
		{in: "0924", want: "2024-09-01"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSaleDate(tc.in)
			if err != nil {
				t.Fatalf("ParseSaleDate(%q): %v", tc.in, err)
			}
			if got.Format("2006-01-02") != tc.want {
				t.Fatalf("ParseSaleDate(%q)=%s want %s", tc.in, got.Format("2006-01-02"), tc.want)
			}
			if got.Day() != 1 {
				t.Fatalf("ParseSaleDate(%q) day=%d, must be first-of-month", tc.in, got.Day())
			}
		})
	}

	for _, bad := range []string{"", "not-a-date", "13/13/13"} {
		if _, err := ParseSaleDate(bad); err == nil {
			t.Fatalf("ParseSaleDate(%q) must fail", bad)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
	}{
		{in: "2150000", want: 2150000},
		{in: "2,150,000", want: 2150000},
		{in: "$1,480,000", want: 1480000},
		{in: "S$ 1,250,000", want: 1250000},
		{in: " 1001.67 ", want: 1001.67},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDecimal(%q)=%v want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseDecimal(""); err == nil {
		t.Fatal("empty input must fail")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatal("non-numeric input must fail")
	}
}

func TestParseDistrict(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"1", "01", "D1", "D01", " d01 "} {
		got, err := ParseDistrict(in)
		if err != nil {
			t.Fatalf("ParseDistrict(%q): %v", in, err)
		}
		if got != "D01" {
			t.Fatalf("ParseDistrict(%q)=%s want D01", in, got)
		}
	}

	for _, bad := range []string{"0", "29", "x", ""} {
		if _, err := ParseDistrict(bad); err == nil {
			t.Fatalf("ParseDistrict(%q) must fail", bad)
		}
	}
}

func TestNormalizeSaleType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "New Sale", want: "New Sale"},
		{in: "new  sale", want: "New Sale"},
		{in: "Resale", want: "Resale"},
		{in: "Sub Sale", want: "Resale"},
	}
	for _, tc := range cases {
		got, err := NormalizeSaleType(tc.in)
		if err != nil {
			t.Fatalf("NormalizeSaleType(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeSaleType(%q)=%s want %s", tc.in, got, tc.want)
		}
	}
	if _, err := NormalizeSaleType("Auction"); err == nil {
		t.Fatal("unknown sale type must fail")
	}
}

func TestIsCondoPropertyType(t *testing.T) {
	t.Parallel()

	if !IsCondoPropertyType("Condominium") || !IsCondoPropertyType("apartment") {
		t.Fatal("condo types must match")
	}
	if IsCondoPropertyType("Detached House") || IsCondoPropertyType("") {
		t.Fatal("non-condo types must not match")
	}
}
