package models

import (
	"encoding/json"
	"time"
)

// Transaction represents a promoted row in the 'transactions' table.
// Rows are insert-only; retraction is modeled by is_outlier.
type Transaction struct {
	ID              int64     `json:"id"`
	RowHash         string    `json:"row_hash"`
	ProjectName     string    `json:"project_name"`
	TransactionDate time.Time `json:"transaction_date"` // always first-of-month (URA convention)
	Price           float64   `json:"price"`
	AreaSqft        float64   `json:"area_sqft"`
	PSF             float64   `json:"psf"`
	District        string    `json:"district"` // D01..D28
	Region          string    `json:"region"`   // CCR, RCR, OCR
	BedroomCount    int       `json:"bedroom_count"`
	SaleType        string    `json:"sale_type"`
	FloorRange      string    `json:"floor_range,omitempty"` // normalized LL-HH, empty = unknown
	FloorLevel      string    `json:"floor_level,omitempty"`
	Tenure          string    `json:"tenure,omitempty"`
	TenureClass     string    `json:"tenure_class"` // freehold | 99 | 999
	LeaseStartYear  *int      `json:"lease_start_year,omitempty"`
	RemainingLease  *int      `json:"remaining_lease,omitempty"`
	IsOutlier       bool      `json:"is_outlier"`
	Source          string    `json:"source"` // csv | api
	RunID           string    `json:"run_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// StagingRow is a transaction in the 'transactions_staging' table, owned by
// the batch that created it.
type StagingRow struct {
	Transaction
	BatchID          string   `json:"batch_id"`
	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// Batch statuses, in lifecycle order.
const (
	BatchStatusStaging    = "staging"
	BatchStatusValidating = "validating"
	BatchStatusPromoting  = "promoting"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// BatchRecord is one row of the 'etl_batches' ledger. It is the durable form
// of an ingest run's RunContext.
type BatchRecord struct {
	BatchID              string            `json:"batch_id"`
	Dataset              string            `json:"dataset"`
	Status               string            `json:"status"`
	ErrorStage           string            `json:"error_stage,omitempty"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	SchemaVersion        string            `json:"schema_version"`
	RulesVersion         string            `json:"rules_version"`
	ContractHash         string            `json:"contract_hash"`
	HeaderFingerprint    string            `json:"header_fingerprint,omitempty"`
	FileFingerprints     map[string]string `json:"file_fingerprints,omitempty"`
	SourceRowCount       int64             `json:"source_row_count"`
	RowsLoaded           int64             `json:"rows_loaded"`
	RowsRejected         int64             `json:"rows_rejected"`
	RowsSkipped          int64             `json:"rows_skipped"`
	RowsAfterDedup       int64             `json:"rows_after_dedup"`
	RowsOutliersMarked   int64             `json:"rows_outliers_marked"`
	RowsPromoted         int64             `json:"rows_promoted"`
	RowsSkippedCollision int64             `json:"rows_skipped_collision"`
	ValidationIssues     json.RawMessage   `json:"validation_issues,omitempty"`
	Warnings             json.RawMessage   `json:"warnings,omitempty"`
}

// PrecomputedStat is one row of the 'precomputed_stats' snapshot table.
// Values are replaced wholesale per key, never partially mutated.
type PrecomputedStat struct {
	StatKey    string          `json:"stat_key"`
	StatValue  json.RawMessage `json:"stat_value"`
	RowCount   int64           `json:"row_count"`
	ComputedAt time.Time       `json:"computed_at"`
}
