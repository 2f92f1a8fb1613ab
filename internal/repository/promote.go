package repository

import (
	"context"
	"fmt"
)

// PromoteResult reports what one promotion transaction did.
type PromoteResult struct {
	Promoted         int64
	SkippedCollision int64
}

// PromoteBatch moves the batch's staging rows into production inside one
// transaction. The unique index on row_hash plus ON CONFLICT DO NOTHING is
// the cross-batch dedup primitive: re-ingesting the same file promotes
// zero rows. Staging rows are dropped in the same transaction, so readers
// observe either the pre-batch or the post-batch state, never a partial
// one. Outlier rows ARE promoted; they carry is_outlier and are filtered
// analytically, not discarded.
func (r *Repository) PromoteBatch(ctx context.Context, batchID string) (*PromoteResult, error) {
	staged, err := r.CountStagingRows(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("counting staging rows: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions
			(row_hash, project_name, transaction_date, price, area_sqft, psf,
			 district, region, bedroom_count, sale_type, floor_range, floor_level,
			 tenure, tenure_class, lease_start_year, remaining_lease, is_outlier,
			 source, run_id)
		SELECT row_hash, project_name, transaction_date, price, area_sqft, psf,
			 district, region, bedroom_count, sale_type, floor_range, floor_level,
			 tenure, tenure_class, lease_start_year, remaining_lease, is_outlier,
			 source, batch_id
		FROM transactions_staging
		WHERE batch_id = $1 AND is_valid = TRUE
		ON CONFLICT (row_hash) DO NOTHING`, batchID)
	if err != nil {
		return nil, fmt.Errorf("promote insert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM transactions_staging WHERE batch_id = $1", batchID); err != nil {
		return nil, fmt.Errorf("clearing staging rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit promote: %w", err)
	}

	res := &PromoteResult{Promoted: tag.RowsAffected()}
	res.SkippedCollision = staged - res.Promoted
	if res.SkippedCollision < 0 {
		res.SkippedCollision = 0
	}
	return res, nil
}

// RefreshProductionOutliers re-applies the price fence over the whole
// production table. Run as a single follow-up statement when bounds shift;
// the mutation is idempotent.
func (r *Repository) RefreshProductionOutliers(ctx context.Context, lower, upper float64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET is_outlier = (price < $1 OR price > $2)
		WHERE is_outlier <> (price < $1 OR price > $2)`,
		lower, upper)
	if err != nil {
		return 0, fmt.Errorf("refreshing production outliers: %w", err)
	}
	return tag.RowsAffected(), nil
}
