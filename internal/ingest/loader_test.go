package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"condoscan/internal/contract"
	"condoscan/internal/models"
	"condoscan/internal/rules"
)

// fakeStagingWriter collects rows instead of hitting Postgres.
type fakeStagingWriter struct {
	rows []models.StagingRow
}

func (f *fakeStagingWriter) InsertStagingRows(_ context.Context, rows []models.StagingRow) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func newTestLoader(store StagingWriter) *Loader {
	return NewLoader(store, contract.Load(), rules.New(), 2) // small chunks exercise flushing
}

func TestLoadCSVSmallFixture(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	loader := newTestLoader(store)
	rc := NewRunContext("test")

	err := loader.LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_small.csv"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if rc.SourceRowCount != 5 || rc.RowsLoaded != 5 || rc.RowsRejected != 0 || rc.RowsSkipped != 0 {
		t.Fatalf("counts: %s", rc.Summary())
	}
	if !rc.Reconciles() {
		t.Fatalf("must reconcile: %s", rc.Summary())
	}
	if len(store.rows) != 5 {
		t.Fatalf("staged rows = %d, want 5", len(store.rows))
	}
	if len(rc.HeaderFingerprint) != 16 {
		t.Fatalf("header fingerprint = %q", rc.HeaderFingerprint)
	}
	if _, ok := rc.FileFingerprints["fixture_small.csv"]; !ok {
		t.Fatalf("file fingerprint missing: %v", rc.FileFingerprints)
	}

	first := store.rows[0]
	if first.ProjectName != "The Continuum" {
		t.Fatalf("project = %q", first.ProjectName)
	}
	if got := first.TransactionDate.Format("2006-01-02"); got != "2024-02-01" {
		t.Fatalf("Feb-24 parsed to %s, want 2024-02-01", got)
	}
	if first.District != "D15" || first.Region != rules.RegionRCR {
		t.Fatalf("district/region = %s/%s", first.District, first.Region)
	}
	if first.FloorRange != "11-15" {
		t.Fatalf("floor range = %q, want 11-15", first.FloorRange)
	}
	if first.TenureClass != rules.TenureFreehold {
		t.Fatalf("tenure class = %q", first.TenureClass)
	}
	if len(first.RowHash) != 32 {
		t.Fatalf("row hash = %q", first.RowHash)
	}
	wantPSF := 2150000 / 1001.67
	if diff := first.PSF - wantPSF; diff > 0.01 || diff < -0.01 {
		t.Fatalf("psf = %v, want ~%v", first.PSF, wantPSF)
	}
	if first.BatchID != rc.BatchID {
		t.Fatalf("rows must be tagged with the batch id")
	}

	// Every staged row honors the promoted-row invariants.
	for _, row := range store.rows {
		if row.Price <= 0 || row.AreaSqft <= 0 || row.PSF <= 0 {
			t.Fatalf("non-positive values staged: %+v", row.Transaction)
		}
		if row.TransactionDate.Day() != 1 {
			t.Fatalf("transaction date not first-of-month: %v", row.TransactionDate)
		}
	}
}

func TestLoadCSVDeterministicHashes(t *testing.T) {
	t.Parallel()

	load := func() []string {
		store := &fakeStagingWriter{}
		rc := NewRunContext("test")
		if err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_small.csv")); err != nil {
			t.Fatalf("LoadCSV: %v", err)
		}
		hashes := make([]string, len(store.rows))
		for i, r := range store.rows {
			hashes[i] = r.RowHash
		}
		return hashes
	}

	a, b := load(), load()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d hash differs across identical loads: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestLoadCSVDuplicateSpellingsShareHash(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	rc := NewRunContext("test")
	if err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_dupes.csv")); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(store.rows) != 3 {
		t.Fatalf("staged rows = %d, want 3 (dedup happens later, in SQL)", len(store.rows))
	}
	if store.rows[0].RowHash != store.rows[1].RowHash {
		t.Fatalf("floor spellings '11 to 15' and '11-15' must hash identically: %s vs %s",
			store.rows[0].RowHash, store.rows[1].RowHash)
	}
	if store.rows[0].RowHash == store.rows[2].RowHash {
		t.Fatal("distinct transactions must not collide")
	}
}

func TestLoadCSVRowLevelIssues(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	rc := NewRunContext("test")
	if err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_bad_rows.csv")); err != nil {
		t.Fatalf("row-level problems must not abort the batch: %v", err)
	}

	// 4 source rows: zero price rejected, landed home skipped, broken date
	// rejected, one good row loaded.
	if rc.SourceRowCount != 4 {
		t.Fatalf("source = %d, want 4", rc.SourceRowCount)
	}
	if rc.RowsLoaded != 1 || rc.RowsRejected != 2 || rc.RowsSkipped != 1 {
		t.Fatalf("counts: %s", rc.Summary())
	}
	if !rc.Reconciles() {
		t.Fatalf("must reconcile: %s", rc.Summary())
	}
	if rc.FieldErrors[contract.FieldPrice] != 1 || rc.FieldErrors[contract.FieldSaleDate] != 1 {
		t.Fatalf("field error counters: %v", rc.FieldErrors)
	}
	if len(store.rows) != 1 || store.rows[0].ProjectName != "Pinetree Hill" {
		t.Fatalf("staged rows: %+v", store.rows)
	}
}

func TestLoadCSVHeaderMismatch(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	rc := NewRunContext("test")
	err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_missing_price.csv"))

	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContractError", err)
	}
	var hm *contract.HeaderMismatchError
	if !errors.As(err, &hm) {
		t.Fatalf("err = %v, want wrapped HeaderMismatchError", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("no rows may be staged on header mismatch, got %d", len(store.rows))
	}
}

func TestLoadCSVEmptyFile(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	rc := NewRunContext("test")
	if err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "fixture_empty.csv")); err != nil {
		t.Fatalf("header-only file must load cleanly: %v", err)
	}
	if rc.SourceRowCount != 0 || rc.RowsLoaded != 0 || len(store.rows) != 0 {
		t.Fatalf("empty file counts: %s", rc.Summary())
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	rc := NewRunContext("test")
	err := newTestLoader(store).LoadCSV(context.Background(), rc, filepath.Join("testdata", "no_such_file.csv"))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LoadError", err)
	}
}

func TestLoadRecordsReportedPSF(t *testing.T) {
	t.Parallel()

	base := Record{
		contract.FieldProjectName:  "The Continuum",
		contract.FieldSaleDate:     "0224",
		contract.FieldPropertyType: "Condominium",
		contract.FieldPrice:        "2000000",
		contract.FieldAreaSqft:     "1000",
		contract.FieldDistrict:     "15",
		contract.FieldSaleType:     "New Sale",
	}
	withPSF := func(psf string) Record {
		rec := make(Record, len(base)+1)
		for k, v := range base {
			rec[k] = v
		}
		rec[contract.FieldPSF] = psf
		return rec
	}

	t.Run("within tolerance is kept", func(t *testing.T) {
		t.Parallel()
		store := &fakeStagingWriter{}
		rc := NewRunContext("test")
		// price/area = 2000, reported 2040 is inside the 5% band.
		if err := newTestLoader(store).LoadRecords(context.Background(), rc, "csv", []Record{withPSF("2040")}); err != nil {
			t.Fatalf("LoadRecords: %v", err)
		}
		if rc.RowsLoaded != 1 || rc.RowsRejected != 0 {
			t.Fatalf("counts: %s", rc.Summary())
		}
		if store.rows[0].PSF != 2040 {
			t.Fatalf("psf = %v, want reported 2040", store.rows[0].PSF)
		}
	})

	t.Run("divergent reported psf rejects the row", func(t *testing.T) {
		t.Parallel()
		store := &fakeStagingWriter{}
		rc := NewRunContext("test")
		// 2500 diverges from 2000 by 25%.
		if err := newTestLoader(store).LoadRecords(context.Background(), rc, "csv", []Record{withPSF("2500")}); err != nil {
			t.Fatalf("row-level problems must not abort the batch: %v", err)
		}
		if rc.RowsLoaded != 0 || rc.RowsRejected != 1 {
			t.Fatalf("counts: %s", rc.Summary())
		}
		if rc.FieldErrors[contract.FieldPSF] != 1 {
			t.Fatalf("field error counters: %v", rc.FieldErrors)
		}
		if len(store.rows) != 0 {
			t.Fatalf("rejected row must not be staged: %+v", store.rows)
		}
	})
}

func TestLoadRecordsAPISource(t *testing.T) {
	t.Parallel()

	store := &fakeStagingWriter{}
	loader := newTestLoader(store)
	rc := NewRunContext("test")

	recs := []Record{
		{
			contract.FieldProjectName:  "The Continuum",
			contract.FieldSaleDate:     "0224",
			contract.FieldPropertyType: "Condominium",
			contract.FieldPrice:        "2150000",
			contract.FieldAreaSqft:     "1001.67",
			contract.FieldDistrict:     "15",
			contract.FieldSaleType:     "New Sale",
			contract.FieldFloorRange:   "11-15",
			contract.FieldTenure:       "Freehold",
		},
	}
	if err := loader.LoadRecords(context.Background(), rc, "api", recs); err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("staged rows = %d", len(store.rows))
	}
	apiRow := store.rows[0]
	if apiRow.Source != "api" {
		t.Fatalf("source = %q", apiRow.Source)
	}

	// The same transaction via CSV must produce the identical row hash.
	csvStore := &fakeStagingWriter{}
	csvRC := NewRunContext("test")
	if err := newTestLoader(csvStore).LoadCSV(context.Background(), csvRC, filepath.Join("testdata", "fixture_small.csv")); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if csvStore.rows[0].RowHash != apiRow.RowHash {
		t.Fatalf("CSV and API row hashes differ: %s vs %s", csvStore.rows[0].RowHash, apiRow.RowHash)
	}
}
