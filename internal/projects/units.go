// Package projects holds the side data source mapping project names to
// their total unit counts, used by the aggregation engine to derive
// percent_sold and unsold_inventory.
package projects

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
)

// UnitsLoader is the repository surface the store reads from and writes to.
type UnitsLoader interface {
	ProjectUnits(ctx context.Context) (map[string]int, error)
	UpsertProjectUnits(ctx context.Context, units map[string]int) error
}

// Store caches project unit counts in memory. Lookups are case-insensitive
// on project name. Refresh replaces the map wholesale.
type Store struct {
	loader UnitsLoader

	mu    sync.RWMutex
	units map[string]int
}

func NewStore(loader UnitsLoader) *Store {
	return &Store{loader: loader, units: make(map[string]int)}
}

// Refresh reloads the map from the database.
func (s *Store) Refresh(ctx context.Context) error {
	raw, err := s.loader.ProjectUnits(ctx)
	if err != nil {
		return fmt.Errorf("loading project units: %w", err)
	}
	units := make(map[string]int, len(raw))
	for name, n := range raw {
		units[normalizeName(name)] = n
	}
	s.mu.Lock()
	s.units = units
	s.mu.Unlock()
	log.Printf("[projects] loaded %d project unit counts", len(units))
	return nil
}

// TotalUnits resolves a project's unit count.
func (s *Store) TotalUnits(project string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.units[normalizeName(project)]
	return n, ok
}

// Len reports the number of known projects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// ImportCSV seeds the side table from a two-column CSV
// (project_name,total_units) with a header row, then refreshes the cache.
func (s *Store) ImportCSV(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil { // header
		return fmt.Errorf("reading %s: %w", path, err)
	}

	units := make(map[string]int)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if len(rec) < 2 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		n, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || name == "" || n <= 0 {
			log.Printf("[projects] skipping unit row %v", rec)
			continue
		}
		units[name] = n
	}
	if err := s.loader.UpsertProjectUnits(ctx, units); err != nil {
		return fmt.Errorf("storing project units: %w", err)
	}
	return s.Refresh(ctx)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
