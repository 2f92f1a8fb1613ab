package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertPrecomputedStat replaces one snapshot wholesale. Partial mutation
// of a stat value is never performed.
func (r *Repository) UpsertPrecomputedStat(ctx context.Context, key string, value json.RawMessage, rowCount int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO precomputed_stats (stat_key, stat_value, row_count, computed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (stat_key) DO UPDATE SET
			stat_value = EXCLUDED.stat_value,
			row_count = EXCLUDED.row_count,
			computed_at = EXCLUDED.computed_at`,
		key, []byte(value), rowCount)
	if err != nil {
		return fmt.Errorf("upserting stat %s: %w", key, err)
	}
	return nil
}

// GetPrecomputedStat loads one snapshot, or nil when absent.
func (r *Repository) GetPrecomputedStat(ctx context.Context, key string) (*models.PrecomputedStat, error) {
	var s models.PrecomputedStat
	var value []byte
	err := r.db.QueryRow(ctx,
		"SELECT stat_key, stat_value, row_count, computed_at FROM precomputed_stats WHERE stat_key = $1",
		key).Scan(&s.StatKey, &value, &s.RowCount, &s.ComputedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.StatValue = value
	return &s, nil
}

// ListPrecomputedStats returns all snapshots.
func (r *Repository) ListPrecomputedStats(ctx context.Context) ([]models.PrecomputedStat, error) {
	rows, err := r.db.Query(ctx,
		"SELECT stat_key, stat_value, row_count, computed_at FROM precomputed_stats ORDER BY stat_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.PrecomputedStat, 0)
	for rows.Next() {
		var s models.PrecomputedStat
		var value []byte
		if err := rows.Scan(&s.StatKey, &value, &s.RowCount, &s.ComputedAt); err != nil {
			return nil, err
		}
		s.StatValue = value
		out = append(out, s)
	}
	return out, rows.Err()
}

// RegionMedianPSF is one row of the "median PSF by region" headline.
type RegionMedianPSF struct {
	Region    string  `json:"region"`
	MedianPSF float64 `json:"median_psf"`
	Count     int64   `json:"count"`
}

// MedianPSFByRegion computes the headline median PSF per region over the
// trailing N months of non-outlier sales.
func (r *Repository) MedianPSFByRegion(ctx context.Context, months int) ([]RegionMedianPSF, error) {
	rows, err := r.db.Query(ctx, `
		SELECT region,
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf),
			COUNT(*)
		FROM transactions
		WHERE is_outlier = FALSE
		  AND transaction_date >= date_trunc('month', NOW()) - make_interval(months => $1)
		GROUP BY region
		ORDER BY region`, months)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RegionMedianPSF, 0, 3)
	for rows.Next() {
		var row RegionMedianPSF
		if err := rows.Scan(&row.Region, &row.MedianPSF, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QuarterVolume is one row of the quarterly-volume headline.
type QuarterVolume struct {
	Quarter    string  `json:"quarter"` // YYYY-Q?
	Count      int64   `json:"count"`
	TotalValue float64 `json:"total_value"`
	MedianPSF  float64 `json:"median_psf"`
}

// QuarterlyVolumes returns transaction counts and value for the trailing N
// quarters.
func (r *Repository) QuarterlyVolumes(ctx context.Context, quarters int) ([]QuarterVolume, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			EXTRACT(YEAR FROM transaction_date)::int,
			EXTRACT(QUARTER FROM transaction_date)::int,
			COUNT(*),
			COALESCE(SUM(price), 0),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf), 0)
		FROM transactions
		WHERE is_outlier = FALSE
		  AND transaction_date >= date_trunc('quarter', NOW()) - make_interval(months => $1 * 3)
		GROUP BY 1, 2
		ORDER BY 1, 2`, quarters)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]QuarterVolume, 0, quarters)
	for rows.Next() {
		var year, quarter int
		var row QuarterVolume
		if err := rows.Scan(&year, &quarter, &row.Count, &row.TotalValue, &row.MedianPSF); err != nil {
			return nil, err
		}
		row.Quarter = fmt.Sprintf("%d-Q%d", year, quarter)
		out = append(out, row)
	}
	return out, rows.Err()
}

// MonthMedianPSF is one row of the monthly market-trend headline.
type MonthMedianPSF struct {
	Month     string  `json:"month"` // YYYY-MM
	MedianPSF float64 `json:"median_psf"`
	Count     int64   `json:"count"`
}

// MonthlyMedianPSF returns the island-wide median PSF per month for the
// trailing N months.
func (r *Repository) MonthlyMedianPSF(ctx context.Context, months int) ([]MonthMedianPSF, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(transaction_date, 'YYYY-MM'),
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf),
			COUNT(*)
		FROM transactions
		WHERE is_outlier = FALSE
		  AND transaction_date >= date_trunc('month', NOW()) - make_interval(months => $1)
		GROUP BY 1
		ORDER BY 1`, months)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MonthMedianPSF, 0, months)
	for rows.Next() {
		var row MonthMedianPSF
		if err := rows.Scan(&row.Month, &row.MedianPSF, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ProjectVolume is one row of the top-projects headline.
type ProjectVolume struct {
	ProjectName string  `json:"project_name"`
	District    string  `json:"district"`
	Count       int64   `json:"count"`
	MedianPSF   float64 `json:"median_psf"`
	TotalValue  float64 `json:"total_value"`
}

// TopProjectsByVolume returns the busiest projects over the trailing N days.
func (r *Repository) TopProjectsByVolume(ctx context.Context, days, limit int) ([]ProjectVolume, error) {
	rows, err := r.db.Query(ctx, `
		SELECT project_name,
			MIN(district),
			COUNT(*),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf), 0),
			COALESCE(SUM(price), 0)
		FROM transactions
		WHERE is_outlier = FALSE
		  AND transaction_date >= NOW() - make_interval(days => $1)
		GROUP BY project_name
		ORDER BY COUNT(*) DESC
		LIMIT $2`, days, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ProjectVolume, 0, limit)
	for rows.Next() {
		var row ProjectVolume
		if err := rows.Scan(&row.ProjectName, &row.District, &row.Count, &row.MedianPSF, &row.TotalValue); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ProductionRowCount counts non-outlier production rows.
func (r *Repository) ProductionRowCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions WHERE is_outlier = FALSE").Scan(&n)
	return n, err
}

// ProjectUnits loads the project_name -> total_units side table used by
// the aggregation engine's percent_sold post-processing.
func (r *Repository) ProjectUnits(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, "SELECT project_name, total_units FROM project_units")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var units int
		if err := rows.Scan(&name, &units); err != nil {
			return nil, err
		}
		out[name] = units
	}
	return out, rows.Err()
}

// UpsertProjectUnits replaces unit counts for the given projects.
func (r *Repository) UpsertProjectUnits(ctx context.Context, units map[string]int) error {
	batch := &pgx.Batch{}
	for name, n := range units {
		batch.Queue(`
			INSERT INTO project_units (project_name, total_units, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (project_name) DO UPDATE SET
				total_units = EXCLUDED.total_units,
				updated_at = EXCLUDED.updated_at`, name, n)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range units {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting project units: %w", err)
		}
	}
	return nil
}
