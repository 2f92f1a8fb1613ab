package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// InsertStagingRows bulk-inserts one loader chunk into transactions_staging.
// Rows arrive already validated, normalized and hashed.
func (r *Repository) InsertStagingRows(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		var validationErrors any
		if len(row.ValidationErrors) > 0 {
			b, err := json.Marshal(row.ValidationErrors)
			if err != nil {
				return fmt.Errorf("marshaling validation errors: %w", err)
			}
			validationErrors = b
		}
		batch.Queue(`
			INSERT INTO transactions_staging
				(batch_id, row_hash, project_name, transaction_date, price, area_sqft, psf,
				 district, region, bedroom_count, sale_type, floor_range, floor_level,
				 tenure, tenure_class, lease_start_year, remaining_lease, source,
				 is_valid, validation_errors)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
				NULLIF($12, ''), $13, NULLIF($14, ''), $15, $16, $17, $18, $19, $20)`,
			row.BatchID, row.RowHash, row.ProjectName, row.TransactionDate,
			row.Price, row.AreaSqft, row.PSF, row.District, row.Region,
			row.BedroomCount, row.SaleType, row.FloorRange, row.FloorLevel,
			row.Tenure, row.TenureClass, row.LeaseStartYear, row.RemainingLease,
			row.Source, row.IsValid, validationErrors,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("staging insert: %w", err)
		}
	}
	return nil
}

// DedupStagingBatch keeps one representative per row_hash within the batch
// (the lowest id) and deletes the rest. Returns the surviving row count.
func (r *Repository) DedupStagingBatch(ctx context.Context, batchID string) (int64, error) {
	_, err := r.db.Exec(ctx, `
		DELETE FROM transactions_staging
		WHERE batch_id = $1
		  AND id NOT IN (
			SELECT MIN(id) FROM transactions_staging
			WHERE batch_id = $1
			GROUP BY row_hash
		  )`, batchID)
	if err != nil {
		return 0, fmt.Errorf("dedup batch %s: %w", batchID, err)
	}
	return r.CountStagingRows(ctx, batchID)
}

// CountStagingRows returns how many rows the batch currently holds.
func (r *Repository) CountStagingRows(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions_staging WHERE batch_id = $1", batchID).Scan(&n)
	return n, err
}

// DeleteStagingBatch drops all staging rows owned by the batch.
func (r *Repository) DeleteStagingBatch(ctx context.Context, batchID string) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM transactions_staging WHERE batch_id = $1", batchID)
	return err
}

// IQRBounds holds the price fence computed over production non-outlier rows.
type IQRBounds struct {
	Q1, Q3       float64
	Lower, Upper float64
	SampleCount  int64
}

// ProductionPriceIQR computes quartiles over the current production
// non-outlier prices. Bounds come from production, not the in-flight batch,
// so in-batch outliers cannot widen their own fence.
func (r *Repository) ProductionPriceIQR(ctx context.Context, multiplier float64) (*IQRBounds, error) {
	var b IQRBounds
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY price), 0),
			COALESCE(PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY price), 0),
			COUNT(*)
		FROM transactions
		WHERE is_outlier = FALSE`).Scan(&b.Q1, &b.Q3, &b.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("computing price IQR: %w", err)
	}
	iqr := b.Q3 - b.Q1
	b.Lower = b.Q1 - multiplier*iqr
	b.Upper = b.Q3 + multiplier*iqr
	return &b, nil
}

// MarkStagingOutliers flags batch rows priced outside [lower, upper].
// Idempotent: rerunning with the same bounds flags the same set.
func (r *Repository) MarkStagingOutliers(ctx context.Context, batchID string, lower, upper float64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions_staging
		SET is_outlier = TRUE
		WHERE batch_id = $1 AND (price < $2 OR price > $3)`,
		batchID, lower, upper)
	if err != nil {
		return 0, fmt.Errorf("marking outliers for batch %s: %w", batchID, err)
	}
	return tag.RowsAffected(), nil
}
