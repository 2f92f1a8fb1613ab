package projects

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeLoader struct {
	stored map[string]int
}

func (f *fakeLoader) ProjectUnits(_ context.Context) (map[string]int, error) {
	return f.stored, nil
}

func (f *fakeLoader) UpsertProjectUnits(_ context.Context, units map[string]int) error {
	if f.stored == nil {
		f.stored = make(map[string]int)
	}
	for k, v := range units {
		f.stored[k] = v
	}
	return nil
}

func TestStoreLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := NewStore(&fakeLoader{stored: map[string]int{"The Continuum": 816}})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, name := range []string{"The Continuum", "the continuum", " THE CONTINUUM "} {
		if n, ok := s.TotalUnits(name); !ok || n != 816 {
			t.Fatalf("TotalUnits(%q) = %d, %v", name, n, ok)
		}
	}
	if _, ok := s.TotalUnits("Unknown Towers"); ok {
		t.Fatal("unknown project must miss")
	}
}

func TestImportCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "units.csv")
	csv := "project_name,total_units\nThe Continuum,816\nPinetree Hill,520\nBad Row,notanumber\n,100\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(&fakeLoader{})
	if err := s.ImportCSV(context.Background(), path); err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (bad rows skipped)", s.Len())
	}
	if n, _ := s.TotalUnits("Pinetree Hill"); n != 520 {
		t.Fatalf("Pinetree Hill units = %d", n)
	}
}
