package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"condoscan/internal/repository"
)

// Snapshot stat keys served from precomputed_stats.
const (
	StatMedianPSFByRegion = "median_psf_by_region_6m"
	StatQuarterlyVolumes  = "quarterly_volumes_5q"
	StatMonthlyMedianPSF  = "monthly_median_psf_12m"
	StatTopProjects       = "top_projects_90d"
)

// SnapshotStore is the repository surface the refresher needs.
type SnapshotStore interface {
	MedianPSFByRegion(ctx context.Context, months int) ([]repository.RegionMedianPSF, error)
	QuarterlyVolumes(ctx context.Context, quarters int) ([]repository.QuarterVolume, error)
	MonthlyMedianPSF(ctx context.Context, months int) ([]repository.MonthMedianPSF, error)
	TopProjectsByVolume(ctx context.Context, days, limit int) ([]repository.ProjectVolume, error)
	UpsertPrecomputedStat(ctx context.Context, key string, value json.RawMessage, rowCount int64) error
}

// Refresher rebuilds the fixed set of headline snapshots after each
// successful promotion, one upsert per stat key. Each key is replaced
// wholesale.
type Refresher struct {
	store SnapshotStore
}

func NewRefresher(store SnapshotStore) *Refresher {
	return &Refresher{store: store}
}

// RefreshAll recomputes every snapshot. Stats are independent; the first
// failure aborts so a partial refresh is visible in logs, but previously
// written keys stay consistent (each was replaced atomically).
func (s *Refresher) RefreshAll(ctx context.Context) error {
	if err := s.refreshMedianPSFByRegion(ctx); err != nil {
		return fmt.Errorf("%s: %w", StatMedianPSFByRegion, err)
	}
	if err := s.refreshQuarterlyVolumes(ctx); err != nil {
		return fmt.Errorf("%s: %w", StatQuarterlyVolumes, err)
	}
	if err := s.refreshMonthlyMedianPSF(ctx); err != nil {
		return fmt.Errorf("%s: %w", StatMonthlyMedianPSF, err)
	}
	if err := s.refreshTopProjects(ctx); err != nil {
		return fmt.Errorf("%s: %w", StatTopProjects, err)
	}
	log.Printf("[snapshots] all precomputed stats refreshed")
	return nil
}

func (s *Refresher) refreshMedianPSFByRegion(ctx context.Context) error {
	rows, err := s.store.MedianPSFByRegion(ctx, 6)
	if err != nil {
		return err
	}
	return s.write(ctx, StatMedianPSFByRegion, rows, int64(len(rows)))
}

func (s *Refresher) refreshQuarterlyVolumes(ctx context.Context) error {
	rows, err := s.store.QuarterlyVolumes(ctx, 5)
	if err != nil {
		return err
	}
	return s.write(ctx, StatQuarterlyVolumes, rows, int64(len(rows)))
}

func (s *Refresher) refreshMonthlyMedianPSF(ctx context.Context) error {
	rows, err := s.store.MonthlyMedianPSF(ctx, 12)
	if err != nil {
		return err
	}
	return s.write(ctx, StatMonthlyMedianPSF, rows, int64(len(rows)))
}

func (s *Refresher) refreshTopProjects(ctx context.Context) error {
	rows, err := s.store.TopProjectsByVolume(ctx, 90, 20)
	if err != nil {
		return err
	}
	return s.write(ctx, StatTopProjects, rows, int64(len(rows)))
}

func (s *Refresher) write(ctx context.Context, key string, rows any, count int64) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return s.store.UpsertPrecomputedStat(ctx, key, payload, count)
}
