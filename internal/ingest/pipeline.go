package ingest

import (
	"context"
	"log"

	"condoscan/internal/contract"
	"condoscan/internal/models"
	"condoscan/internal/repository"
	"condoscan/internal/rules"
)

// Store is the repository surface the pipeline drives.
type Store interface {
	StagingWriter
	TryAcquireIngestLock(ctx context.Context, dataset string) (release func(), err error)
	InsertBatch(ctx context.Context, b *models.BatchRecord) error
	UpdateBatchStatus(ctx context.Context, batchID, status string) error
	FinalizeBatch(ctx context.Context, b *models.BatchRecord) error
	LastCompletedBatch(ctx context.Context, dataset string) (*models.BatchRecord, error)
	DedupStagingBatch(ctx context.Context, batchID string) (int64, error)
	ProductionPriceIQR(ctx context.Context, multiplier float64) (*repository.IQRBounds, error)
	MarkStagingOutliers(ctx context.Context, batchID string, lower, upper float64) (int64, error)
	PromoteBatch(ctx context.Context, batchID string) (*repository.PromoteResult, error)
	DeleteStagingBatch(ctx context.Context, batchID string) error
}

// Config tunes one pipeline instance.
type Config struct {
	IQRMultiplier float64
	ChunkSize     int
	// OnCompleted fires after a successful run's ledger row is final.
	// Used to flush the API cache and notify websocket subscribers.
	OnCompleted func(rc *RunContext)
}

// Pipeline runs the full ingest flow: stage, dedup, mark outliers,
// promote, refresh snapshots, finalize the ledger. One run at a time per
// dataset, enforced by an advisory lock.
type Pipeline struct {
	store     Store
	schema    *contract.Schema
	registry  *rules.Registry
	loader    *Loader
	refresher *Refresher
	cfg       Config
}

func NewPipeline(store Store, schema *contract.Schema, registry *rules.Registry, refresher *Refresher, cfg Config) *Pipeline {
	if cfg.IQRMultiplier <= 0 {
		cfg.IQRMultiplier = 5.0
	}
	return &Pipeline{
		store:     store,
		schema:    schema,
		registry:  registry,
		loader:    NewLoader(store, schema, registry, cfg.ChunkSize),
		refresher: refresher,
		cfg:       cfg,
	}
}

// Run ingests the given CSV files as one batch for the dataset. The
// returned RunContext is always populated, also on failure; the error
// classifies the failure for the caller (CLI exit codes, API status).
func (p *Pipeline) Run(ctx context.Context, dataset string, files []string) (*RunContext, error) {
	release, err := p.store.TryAcquireIngestLock(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, &RunInProgressError{Dataset: dataset}
	}
	defer release()

	rc := NewRunContext(dataset)
	rc.SchemaVersion = p.schema.Version
	rc.RulesVersion = p.registry.Version()
	rc.ContractHash = p.schema.Hash()

	if err := p.store.InsertBatch(ctx, rc.Record()); err != nil {
		return rc, err
	}
	log.Printf("[pipeline] %s", rc.Summary())

	if err := p.checkContractDrift(ctx, rc); err != nil {
		rc.Fail(StageLoading, err.Error())
		p.finalize(ctx, rc, true)
		return rc, err
	}

	// Stage 1: load files into staging.
	for _, path := range files {
		if err := p.loader.LoadCSV(ctx, rc, path); err != nil {
			rc.Fail(StageLoading, err.Error())
			p.finalize(ctx, rc, true) // discard partial staging rows
			return rc, err
		}
	}

	return p.finishRun(ctx, rc)
}

// finishRun drives the shared post-load stages: dedup, outlier marking,
// promotion, snapshot refresh, ledger finalization.
func (p *Pipeline) finishRun(ctx context.Context, rc *RunContext) (*RunContext, error) {
	// Stage 2: within-batch dedup + outlier marking.
	rc.Status = models.BatchStatusValidating
	_ = p.store.UpdateBatchStatus(ctx, rc.BatchID, rc.Status)

	afterDedup, err := p.store.DedupStagingBatch(ctx, rc.BatchID)
	if err != nil {
		rc.Fail(StageDedup, err.Error())
		p.finalize(ctx, rc, true)
		return rc, err
	}
	rc.RowsAfterDedup = afterDedup

	if err := p.markOutliers(ctx, rc); err != nil {
		rc.Fail(StageOutliers, err.Error())
		p.finalize(ctx, rc, true)
		return rc, err
	}

	// Stage 3: promote. On failure staging rows are RETAINED for forensics.
	rc.Status = models.BatchStatusPromoting
	_ = p.store.UpdateBatchStatus(ctx, rc.BatchID, rc.Status)

	res, err := p.store.PromoteBatch(ctx, rc.BatchID)
	if err != nil {
		perr := &PromotionError{Err: err}
		rc.Fail(StagePromoting, perr.Error())
		p.finalize(ctx, rc, false)
		return rc, perr
	}
	rc.RowsPromoted = res.Promoted
	rc.RowsSkippedCollision = res.SkippedCollision

	// Stage 4: snapshots. The promote is already durable, so a snapshot
	// failure downgrades to a warning rather than failing the batch.
	if p.refresher != nil {
		if err := p.refresher.RefreshAll(ctx); err != nil {
			rc.Warn("snapshot refresh failed: %v", err)
			log.Printf("[pipeline] batch %s: snapshot refresh failed: %v", rc.BatchID, err)
		}
	}

	rc.Complete()
	p.finalize(ctx, rc, false)
	log.Printf("[pipeline] %s", rc.Summary())

	if p.cfg.OnCompleted != nil {
		p.cfg.OnCompleted(rc)
	}
	return rc, nil
}

// RunRecords ingests pre-fetched records (API pulls) as one batch. Same
// flow as Run, minus file handling: the records were already decoded by
// the source client and carry canonical field names.
func (p *Pipeline) RunRecords(ctx context.Context, dataset, source string, records []Record) (*RunContext, error) {
	release, err := p.store.TryAcquireIngestLock(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, &RunInProgressError{Dataset: dataset}
	}
	defer release()

	rc := NewRunContext(dataset)
	rc.SchemaVersion = p.schema.Version
	rc.RulesVersion = p.registry.Version()
	rc.ContractHash = p.schema.Hash()

	if err := p.store.InsertBatch(ctx, rc.Record()); err != nil {
		return rc, err
	}

	if err := p.checkContractDrift(ctx, rc); err != nil {
		rc.Fail(StageLoading, err.Error())
		p.finalize(ctx, rc, true)
		return rc, err
	}

	if err := p.loader.LoadRecords(ctx, rc, source, records); err != nil {
		rc.Fail(StageLoading, err.Error())
		p.finalize(ctx, rc, true)
		return rc, err
	}

	return p.finishRun(ctx, rc)
}

// checkContractDrift compares this run's contract hash against the last
// completed run of the same dataset. A changed hash under an unchanged
// schema version means the contract was edited in place: fatal. A changed
// hash with a bumped version is an intentional migration: warning only.
func (p *Pipeline) checkContractDrift(ctx context.Context, rc *RunContext) error {
	last, err := p.store.LastCompletedBatch(ctx, rc.Dataset)
	if err != nil || last == nil || last.ContractHash == "" {
		return nil
	}
	if last.ContractHash == rc.ContractHash {
		return nil
	}
	if last.SchemaVersion == rc.SchemaVersion {
		return &ContractError{Reason: "contract hash changed without a schema version bump"}
	}
	rc.Warn("schema contract migrated: version %s (%.12s) -> %s (%.12s)",
		last.SchemaVersion, last.ContractHash, rc.SchemaVersion, rc.ContractHash)
	if last.RulesVersion != "" && last.RulesVersion != rc.RulesVersion {
		rc.Warn("rules version changed: %s -> %s", last.RulesVersion, rc.RulesVersion)
	}
	return nil
}

// markOutliers fences the batch's prices against the production IQR. The
// bounds come from promoted non-outlier rows so in-batch extremes cannot
// widen their own fence. With fewer than two distinct quartile points the
// fence collapses and marking is a no-op.
func (p *Pipeline) markOutliers(ctx context.Context, rc *RunContext) error {
	bounds, err := p.store.ProductionPriceIQR(ctx, p.cfg.IQRMultiplier)
	if err != nil {
		return err
	}
	if bounds.SampleCount < 3 || bounds.Q3 <= bounds.Q1 {
		log.Printf("[pipeline] batch %s: IQR degenerate (n=%d q1=%.2f q3=%.2f), skipping outlier marking",
			rc.BatchID, bounds.SampleCount, bounds.Q1, bounds.Q3)
		return nil
	}
	marked, err := p.store.MarkStagingOutliers(ctx, rc.BatchID, bounds.Lower, bounds.Upper)
	if err != nil {
		return err
	}
	rc.RowsOutliersMarked = marked
	if marked > 0 {
		log.Printf("[pipeline] batch %s: marked %d price outliers outside [%.0f, %.0f]",
			rc.BatchID, marked, bounds.Lower, bounds.Upper)
	}
	return nil
}

// finalize writes the terminal ledger row and optionally discards the
// batch's staging rows.
func (p *Pipeline) finalize(ctx context.Context, rc *RunContext, discardStaging bool) {
	if err := p.store.FinalizeBatch(ctx, rc.Record()); err != nil {
		log.Printf("[pipeline] batch %s: finalize failed: %v", rc.BatchID, err)
	}
	if discardStaging {
		if err := p.store.DeleteStagingBatch(ctx, rc.BatchID); err != nil {
			log.Printf("[pipeline] batch %s: staging cleanup failed: %v", rc.BatchID, err)
		}
	}
}
