package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// InsertBatch writes the opening ledger row for a new run.
func (r *Repository) InsertBatch(ctx context.Context, b *models.BatchRecord) error {
	fingerprints, err := json.Marshal(b.FileFingerprints)
	if err != nil {
		return fmt.Errorf("marshaling file fingerprints: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO etl_batches
			(batch_id, dataset, status, started_at, schema_version, rules_version,
			 contract_hash, header_fingerprint, file_fingerprints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		b.BatchID, b.Dataset, b.Status, b.StartedAt, b.SchemaVersion,
		b.RulesVersion, b.ContractHash, b.HeaderFingerprint, fingerprints)
	if err != nil {
		return fmt.Errorf("inserting batch %s: %w", b.BatchID, err)
	}
	return nil
}

// UpdateBatchStatus advances the lifecycle column mid-run.
func (r *Repository) UpdateBatchStatus(ctx context.Context, batchID, status string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE etl_batches SET status = $2 WHERE batch_id = $1", batchID, status)
	return err
}

// FinalizeBatch persists the full RunContext state as the terminal ledger
// row, whether the run completed or failed.
func (r *Repository) FinalizeBatch(ctx context.Context, b *models.BatchRecord) error {
	fingerprints, err := json.Marshal(b.FileFingerprints)
	if err != nil {
		return fmt.Errorf("marshaling file fingerprints: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE etl_batches SET
			status = $2,
			error_stage = NULLIF($3, ''),
			error_message = NULLIF($4, ''),
			completed_at = $5,
			header_fingerprint = NULLIF($6, ''),
			file_fingerprints = $7,
			source_row_count = $8,
			rows_loaded = $9,
			rows_rejected = $10,
			rows_skipped = $11,
			rows_after_dedup = $12,
			rows_outliers_marked = $13,
			rows_promoted = $14,
			rows_skipped_collision = $15,
			validation_issues = $16,
			warnings = $17
		WHERE batch_id = $1`,
		b.BatchID, b.Status, b.ErrorStage, b.ErrorMessage, b.CompletedAt,
		b.HeaderFingerprint, fingerprints,
		b.SourceRowCount, b.RowsLoaded, b.RowsRejected, b.RowsSkipped,
		b.RowsAfterDedup, b.RowsOutliersMarked, b.RowsPromoted,
		b.RowsSkippedCollision,
		nullableJSON(b.ValidationIssues), nullableJSON(b.Warnings))
	if err != nil {
		return fmt.Errorf("finalizing batch %s: %w", b.BatchID, err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

const batchColumns = `
	batch_id, dataset, status, COALESCE(error_stage, ''), COALESCE(error_message, ''),
	started_at, completed_at, COALESCE(schema_version, ''), COALESCE(rules_version, ''),
	COALESCE(contract_hash, ''), COALESCE(header_fingerprint, ''),
	COALESCE(file_fingerprints, '{}'::jsonb),
	source_row_count, rows_loaded, rows_rejected, rows_skipped,
	rows_after_dedup, rows_outliers_marked, rows_promoted, rows_skipped_collision,
	validation_issues, warnings`

// GetBatch loads one ledger row.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	row := r.db.QueryRow(ctx,
		"SELECT"+batchColumns+" FROM etl_batches WHERE batch_id = $1", batchID)
	b, err := scanBatch(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// LastCompletedBatch returns the most recent successfully completed run for
// a dataset, used for contract-compatibility checks across runs.
func (r *Repository) LastCompletedBatch(ctx context.Context, dataset string) (*models.BatchRecord, error) {
	row := r.db.QueryRow(ctx,
		"SELECT"+batchColumns+` FROM etl_batches
		WHERE dataset = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1`, dataset, models.BatchStatusCompleted)
	b, err := scanBatch(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListBatches returns the newest ledger rows first.
func (r *Repository) ListBatches(ctx context.Context, limit, offset int) ([]models.BatchRecord, error) {
	rows, err := r.db.Query(ctx,
		"SELECT"+batchColumns+" FROM etl_batches ORDER BY started_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.BatchRecord, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (*models.BatchRecord, error) {
	var b models.BatchRecord
	var fingerprints []byte
	var validationIssues, warnings []byte
	err := row.Scan(
		&b.BatchID, &b.Dataset, &b.Status, &b.ErrorStage, &b.ErrorMessage,
		&b.StartedAt, &b.CompletedAt, &b.SchemaVersion, &b.RulesVersion,
		&b.ContractHash, &b.HeaderFingerprint, &fingerprints,
		&b.SourceRowCount, &b.RowsLoaded, &b.RowsRejected, &b.RowsSkipped,
		&b.RowsAfterDedup, &b.RowsOutliersMarked, &b.RowsPromoted,
		&b.RowsSkippedCollision, &validationIssues, &warnings)
	if err != nil {
		return nil, err
	}
	if len(fingerprints) > 0 {
		if err := json.Unmarshal(fingerprints, &b.FileFingerprints); err != nil {
			return nil, fmt.Errorf("unmarshaling file fingerprints: %w", err)
		}
	}
	b.ValidationIssues = validationIssues
	b.Warnings = warnings
	return &b, nil
}
