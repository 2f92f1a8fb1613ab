package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"condoscan/internal/contract"
	"condoscan/internal/hashing"
	"condoscan/internal/models"
	"condoscan/internal/rules"
)

// StagingWriter is the slice of the repository the loader needs.
type StagingWriter interface {
	InsertStagingRows(ctx context.Context, rows []models.StagingRow) error
}

// Record is one source row keyed by canonical field name, raw values.
// CSV rows and API payloads both reduce to this before conversion.
type Record map[string]string

// Loader streams source rows into transactions_staging with validation.
// Row-level problems are counted on the RunContext and never abort the
// batch; file-level problems do.
type Loader struct {
	store     StagingWriter
	schema    *contract.Schema
	registry  *rules.Registry
	chunkSize int
}

func NewLoader(store StagingWriter, schema *contract.Schema, registry *rules.Registry, chunkSize int) *Loader {
	if chunkSize < 1 {
		chunkSize = 500
	}
	return &Loader{store: store, schema: schema, registry: registry, chunkSize: chunkSize}
}

// LoadCSV ingests one CSV file into the batch's staging rows.
func (l *Loader) LoadCSV(ctx context.Context, rc *RunContext, path string) error {
	fileName := filepath.Base(path)

	sum, err := hashing.FileSHA256(path)
	if err != nil {
		return &LoadError{File: fileName, Err: err}
	}
	rc.FileFingerprints[fileName] = sum

	f, err := os.Open(path)
	if err != nil {
		return &LoadError{File: fileName, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // header resolution handles shape

	headers, err := reader.Read()
	if err != nil {
		return &LoadError{File: fileName, Err: fmt.Errorf("reading header: %w", err)}
	}
	mapping, err := l.schema.ResolveHeader(headers)
	if err != nil {
		return &ContractError{Reason: "header mismatch in " + fileName, Err: err}
	}
	rc.HeaderFingerprint = mapping.Fingerprint
	if len(mapping.Unknown) > 0 {
		rc.Warn("%s: ignoring unknown columns: %s", fileName, strings.Join(mapping.Unknown, ", "))
	}

	chunk := make([]models.StagingRow, 0, l.chunkSize)
	line := 1
	for {
		raw, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return &LoadError{File: fileName, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		rc.SourceRowCount++

		rec := make(Record, len(mapping.Columns))
		for field, idx := range mapping.Columns {
			if idx < len(raw) {
				rec[field] = raw[idx]
			}
		}

		row, skip, issue := l.ConvertRecord(rc, rec, "csv")
		if skip {
			rc.RowsSkipped++
			continue
		}
		if issue != nil {
			issue.File = fileName
			issue.Line = line
			rc.RejectRow(*issue)
			continue
		}
		row.BatchID = rc.BatchID
		chunk = append(chunk, *row)
		rc.RowsLoaded++

		if len(chunk) >= l.chunkSize {
			if err := l.store.InsertStagingRows(ctx, chunk); err != nil {
				return &LoadError{File: fileName, Err: err}
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := l.store.InsertStagingRows(ctx, chunk); err != nil {
			return &LoadError{File: fileName, Err: err}
		}
	}

	log.Printf("[loader] %s: source=%d loaded=%d rejected=%d skipped=%d",
		fileName, rc.SourceRowCount, rc.RowsLoaded, rc.RowsRejected, rc.RowsSkipped)
	return nil
}

// LoadRecords ingests pre-parsed records (the API pull path). Bookkeeping
// matches LoadCSV so both sources reconcile identically.
func (l *Loader) LoadRecords(ctx context.Context, rc *RunContext, source string, recs []Record) error {
	chunk := make([]models.StagingRow, 0, l.chunkSize)
	for i, rec := range recs {
		rc.SourceRowCount++
		row, skip, issue := l.ConvertRecord(rc, rec, source)
		if skip {
			rc.RowsSkipped++
			continue
		}
		if issue != nil {
			issue.File = source
			issue.Line = i + 1
			rc.RejectRow(*issue)
			continue
		}
		row.BatchID = rc.BatchID
		chunk = append(chunk, *row)
		rc.RowsLoaded++

		if len(chunk) >= l.chunkSize {
			if err := l.store.InsertStagingRows(ctx, chunk); err != nil {
				return &LoadError{File: source, Err: err}
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := l.store.InsertStagingRows(ctx, chunk); err != nil {
			return &LoadError{File: source, Err: err}
		}
	}
	return nil
}

// psfTolerance is the allowed relative divergence between a reported psf
// column and price/area recomputation.
const psfTolerance = 0.05

// ConvertRecord coerces, derives and validates one source record. Returns
// (row, false, nil) on success, (nil, true, nil) for out-of-scope rows,
// and (nil, false, issue) for validation rejections.
func (l *Loader) ConvertRecord(rc *RunContext, rec Record, source string) (*models.StagingRow, bool, *RowIssue) {
	// Blank rows and non-condo property types are out of scope, not invalid.
	if strings.TrimSpace(rec[contract.FieldProjectName]) == "" &&
		strings.TrimSpace(rec[contract.FieldPrice]) == "" {
		return nil, true, nil
	}
	if !IsCondoPropertyType(rec[contract.FieldPropertyType]) {
		return nil, true, nil
	}

	project := strings.Join(strings.Fields(rec[contract.FieldProjectName]), " ")
	if project == "" {
		return nil, false, &RowIssue{Field: contract.FieldProjectName, Reason: "empty project name"}
	}

	txDate, err := ParseSaleDate(rec[contract.FieldSaleDate])
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldSaleDate, Reason: err.Error()}
	}

	price, err := ParseDecimal(rec[contract.FieldPrice])
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldPrice, Reason: err.Error()}
	}
	if price <= 0 {
		return nil, false, &RowIssue{Field: contract.FieldPrice, Reason: "price must be positive"}
	}

	area, err := ParseDecimal(rec[contract.FieldAreaSqft])
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldAreaSqft, Reason: err.Error()}
	}
	if area <= 0 {
		return nil, false, &RowIssue{Field: contract.FieldAreaSqft, Reason: "area must be positive"}
	}

	district, err := ParseDistrict(rec[contract.FieldDistrict])
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldDistrict, Reason: err.Error()}
	}

	saleType, err := NormalizeSaleType(rec[contract.FieldSaleType])
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldSaleType, Reason: err.Error()}
	}

	computedPSF := price / area
	psf := computedPSF
	if raw := strings.TrimSpace(rec[contract.FieldPSF]); raw != "" {
		reported, err := ParseDecimal(raw)
		if err == nil {
			if math.Abs(reported-computedPSF)/computedPSF > psfTolerance {
				return nil, false, &RowIssue{Field: contract.FieldPSF, Reason: fmt.Sprintf(
					"reported psf %.2f diverges from price/area %.2f by more than %d%%",
					reported, computedPSF, int(psfTolerance*100))}
			}
			psf = reported
		}
	}

	regionOut, err := l.registry.Apply(rules.RuleRegion, rules.Inputs{"district": district})
	if err != nil {
		return nil, false, &RowIssue{Field: contract.FieldDistrict, Reason: err.Error()}
	}
	region, _ := regionOut.(string)

	floorRange := hashing.NormalizeFloorRange(rec[contract.FieldFloorRange])
	rawTenure := rec[contract.FieldTenure]
	ti, _ := l.applyRule(rc, rules.RuleTenure, rules.TenureInfo{Class: rules.Tenure99},
		rules.Inputs{"tenure": rawTenure}).(rules.TenureInfo)
	tenure, tenureClass := ti.Normalized, ti.Class

	bedrooms := l.applyIntRule(rc, rules.RuleBedroom, 0, rules.Inputs{
		"area_sqft": area, "sale_type": saleType, "transaction_date": txDate,
	})
	if bedrooms == 0 {
		bedrooms = l.applyIntRule(rc, rules.RuleBedroomSimple, 3, rules.Inputs{"area_sqft": area})
	}

	floorLevel, _ := l.registry.ApplySafe(rules.RuleFloorLevel, rules.FloorUnknown,
		rules.Inputs{"floor_range": floorRange}).(string)

	leaseStart := l.applyIntRule(rc, rules.RuleLeaseStartYear, 0, rules.Inputs{"tenure": rawTenure})
	remaining := l.applyIntRule(rc, rules.RuleRemainingLease, 0, rules.Inputs{
		"tenure": rawTenure, "transaction_date": txDate,
	})

	row := &models.StagingRow{
		Transaction: models.Transaction{
			ProjectName:     project,
			TransactionDate: txDate,
			Price:           price,
			AreaSqft:        area,
			PSF:             psf,
			District:        district,
			Region:          region,
			BedroomCount:    bedrooms,
			SaleType:        saleType,
			FloorRange:      floorRange,
			FloorLevel:      floorLevel,
			Tenure:          tenure,
			TenureClass:     tenureClass,
			Source:          source,
		},
		IsValid: true,
	}
	if leaseStart > 0 {
		row.LeaseStartYear = &leaseStart
	}
	if remaining > 0 {
		row.RemainingLease = &remaining
	}

	row.RowHash = hashing.RowHash(hashing.NaturalKey{
		ProjectName:     project,
		TransactionDate: txDate,
		Price:           price,
		AreaSqft:        area,
		FloorRange:      floorRange,
	})
	return row, false, nil
}

// applyRule runs a classifier, counting a fallback on the run when it fails.
func (l *Loader) applyRule(rc *RunContext, name rules.Name, fallback any, in rules.Inputs) any {
	out, err := l.registry.Apply(name, in)
	if err != nil {
		rc.RuleFallbacks[string(name)]++
		return fallback
	}
	return out
}

func (l *Loader) applyIntRule(rc *RunContext, name rules.Name, fallback int, in rules.Inputs) int {
	n, ok := l.applyRule(rc, name, fallback, in).(int)
	if !ok {
		rc.RuleFallbacks[string(name)]++
		return fallback
	}
	return n
}
