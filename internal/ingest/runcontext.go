package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"condoscan/internal/models"

	"github.com/google/uuid"
)

// RowIssue records one row-level rejection. Only the first maxRowIssues
// per batch are kept verbatim; the counters are always exact.
type RowIssue struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

const maxRowIssues = 200

// RunContext is the value object that flows through every pipeline stage
// and is serialized to the etl_batches ledger when the run ends.
type RunContext struct {
	BatchID     string
	Dataset     string
	Status      string
	ErrorStage  string
	ErrorMsg    string
	StartedAt   time.Time
	CompletedAt *time.Time

	SchemaVersion     string
	RulesVersion      string
	ContractHash      string
	HeaderFingerprint string
	FileFingerprints  map[string]string

	SourceRowCount       int64
	RowsLoaded           int64
	RowsRejected         int64
	RowsSkipped          int64
	RowsAfterDedup       int64
	RowsOutliersMarked   int64
	RowsPromoted         int64
	RowsSkippedCollision int64

	RowIssues     []RowIssue
	FieldErrors   map[string]int64 // field name -> rejection count
	RuleFallbacks map[string]int64 // rule name -> fallback count
	Warnings      []string
}

// NewRunContext opens a run for a dataset with a fresh batch id.
func NewRunContext(dataset string) *RunContext {
	return &RunContext{
		BatchID:          uuid.NewString(),
		Dataset:          dataset,
		Status:           models.BatchStatusStaging,
		StartedAt:        time.Now().UTC(),
		FileFingerprints: make(map[string]string),
		FieldErrors:      make(map[string]int64),
		RuleFallbacks:    make(map[string]int64),
	}
}

// Fail marks the run terminally failed at a stage.
func (rc *RunContext) Fail(stage, message string) {
	rc.Status = models.BatchStatusFailed
	rc.ErrorStage = stage
	rc.ErrorMsg = message
	now := time.Now().UTC()
	rc.CompletedAt = &now
}

// Complete marks the run terminally successful.
func (rc *RunContext) Complete() {
	rc.Status = models.BatchStatusCompleted
	now := time.Now().UTC()
	rc.CompletedAt = &now
}

// Failed reports whether the run has hit a terminal failure.
func (rc *RunContext) Failed() bool {
	return rc.Status == models.BatchStatusFailed
}

// RejectRow counts one row-level rejection and keeps a bounded sample.
func (rc *RunContext) RejectRow(issue RowIssue) {
	rc.RowsRejected++
	if issue.Field != "" {
		rc.FieldErrors[issue.Field]++
	}
	if len(rc.RowIssues) < maxRowIssues {
		rc.RowIssues = append(rc.RowIssues, issue)
	}
}

// Warn appends a non-fatal semantic warning (unknown headers, rule
// fallbacks past a threshold, contract drift).
func (rc *RunContext) Warn(format string, args ...any) {
	rc.Warnings = append(rc.Warnings, fmt.Sprintf(format, args...))
}

// Reconciles checks the loader bookkeeping identity
// source = loaded + rejected + skipped.
func (rc *RunContext) Reconciles() bool {
	return rc.SourceRowCount == rc.RowsLoaded+rc.RowsRejected+rc.RowsSkipped
}

// Summary renders the one-line operator view of the run, including the
// reconciliation check.
func (rc *RunContext) Summary() string {
	check := "OK"
	if !rc.Reconciles() {
		check = "MISMATCH"
	}
	return fmt.Sprintf(
		"batch=%s dataset=%s status=%s source=%d loaded=%d rejected=%d skipped=%d (reconcile=%s) after_dedup=%d outliers=%d promoted=%d collisions=%d",
		rc.BatchID, rc.Dataset, rc.Status,
		rc.SourceRowCount, rc.RowsLoaded, rc.RowsRejected, rc.RowsSkipped, check,
		rc.RowsAfterDedup, rc.RowsOutliersMarked, rc.RowsPromoted, rc.RowsSkippedCollision)
}

// Record converts the context to its durable ledger form.
func (rc *RunContext) Record() *models.BatchRecord {
	b := &models.BatchRecord{
		BatchID:              rc.BatchID,
		Dataset:              rc.Dataset,
		Status:               rc.Status,
		ErrorStage:           rc.ErrorStage,
		ErrorMessage:         rc.ErrorMsg,
		StartedAt:            rc.StartedAt,
		CompletedAt:          rc.CompletedAt,
		SchemaVersion:        rc.SchemaVersion,
		RulesVersion:         rc.RulesVersion,
		ContractHash:         rc.ContractHash,
		HeaderFingerprint:    rc.HeaderFingerprint,
		FileFingerprints:     rc.FileFingerprints,
		SourceRowCount:       rc.SourceRowCount,
		RowsLoaded:           rc.RowsLoaded,
		RowsRejected:         rc.RowsRejected,
		RowsSkipped:          rc.RowsSkipped,
		RowsAfterDedup:       rc.RowsAfterDedup,
		RowsOutliersMarked:   rc.RowsOutliersMarked,
		RowsPromoted:         rc.RowsPromoted,
		RowsSkippedCollision: rc.RowsSkippedCollision,
	}
	if len(rc.RowIssues) > 0 || len(rc.FieldErrors) > 0 {
		issues, err := json.Marshal(map[string]any{
			"sample":       rc.RowIssues,
			"field_errors": rc.FieldErrors,
		})
		if err == nil {
			b.ValidationIssues = issues
		}
	}
	if len(rc.Warnings) > 0 || len(rc.RuleFallbacks) > 0 {
		warnings, err := json.Marshal(map[string]any{
			"messages":       rc.Warnings,
			"rule_fallbacks": rc.RuleFallbacks,
		})
		if err == nil {
			b.Warnings = warnings
		}
	}
	return b
}
