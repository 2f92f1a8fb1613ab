package ingest

import "fmt"

// Pipeline stage names as recorded on the batch ledger.
const (
	StageLoading    = "loading"
	StageDedup      = "dedup"
	StageOutliers   = "outliers"
	StagePromoting  = "promoting"
	StageSnapshots  = "snapshots"
	StageFinalizing = "finalizing"
)

// ContractError is fatal to a batch: header mismatch, unknown schema
// version, or an incompatible contract hash.
type ContractError struct {
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("contract: %s: %v", e.Reason, e.Err)
	}
	return "contract: " + e.Reason
}

func (e *ContractError) Unwrap() error { return e.Err }

// LoadError is a file-level IO or parse failure. Fatal to the batch;
// row-level issues never produce it.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PromotionError is a DB or transaction failure during promote. The
// transaction rolls back and staging rows are retained for inspection.
type PromotionError struct {
	Err error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promotion: %v", e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

// RunInProgressError is returned when another ingest run holds the
// dataset's advisory lock.
type RunInProgressError struct {
	Dataset string
}

func (e *RunInProgressError) Error() string {
	return fmt.Sprintf("an ingest run for dataset %q is already in progress", e.Dataset)
}
