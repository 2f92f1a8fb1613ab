// Package contract is the single source of truth for the logical input
// schema: which canonical fields exist, which CSV header spellings map to
// them, and which fields form the natural key. Every downstream stage works
// with canonical field names only, so CSV shape drift stops here.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"condoscan/internal/hashing"
)

// SchemaVersion identifies the logical input schema. Bump on any field
// addition; removals and retypes are breaking (see CheckCompatibility).
const SchemaVersion = "3"

// FieldType is the coercion target of a canonical field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeDecimal FieldType = "decimal"
	TypeInt     FieldType = "int"
	TypeDate    FieldType = "date"
)

// Field describes one canonical input field and the CSV header aliases it
// accepts (matched case- and whitespace-insensitively).
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Aliases  []string
}

// Canonical field names used throughout the pipeline.
const (
	FieldProjectName   = "project_name"
	FieldSaleDate      = "sale_date"
	FieldPropertyType  = "property_type"
	FieldPrice         = "price"
	FieldAreaSqft      = "area_sqft"
	FieldDistrict      = "district"
	FieldSaleType      = "sale_type"
	FieldPSF           = "psf"
	FieldFloorRange    = "floor_range"
	FieldTenure        = "tenure"
	FieldStreet        = "street"
	FieldUnitCount     = "unit_count"
	FieldNettPrice     = "nett_price"
	FieldAreaType      = "area_type"
	FieldMarketSegment = "market_segment"
)

// Schema is the loaded contract: an ordered field list plus the natural key.
type Schema struct {
	Version    string
	Fields     []Field
	NaturalKey []string
}

// Load returns the current schema contract.
func Load() *Schema {
	return &Schema{
		Version: SchemaVersion,
		Fields: []Field{
			{Name: FieldProjectName, Type: TypeString, Required: true,
				Aliases: []string{"project name", "project", "development"}},
			{Name: FieldSaleDate, Type: TypeDate, Required: true,
				Aliases: []string{"sale date", "date of sale", "contract date", "transaction date"}},
			{Name: FieldPropertyType, Type: TypeString, Required: true,
				Aliases: []string{"property type", "type"}},
			{Name: FieldPrice, Type: TypeDecimal, Required: true,
				Aliases: []string{"transacted price ($)", "transacted price", "price ($)", "price"}},
			{Name: FieldAreaSqft, Type: TypeDecimal, Required: true,
				Aliases: []string{"area (sqft)", "area sqft", "area", "floor area (sqft)"}},
			{Name: FieldDistrict, Type: TypeString, Required: true,
				Aliases: []string{"postal district", "district"}},
			{Name: FieldSaleType, Type: TypeString, Required: true,
				Aliases: []string{"type of sale", "sale type"}},
			{Name: FieldPSF, Type: TypeDecimal, Required: false,
				Aliases: []string{"unit price ($ psf)", "unit price ($psf)", "unit price psf"}},
			{Name: FieldFloorRange, Type: TypeString, Required: false,
				Aliases: []string{"floor level", "floor range", "floor"}},
			{Name: FieldTenure, Type: TypeString, Required: false,
				Aliases: []string{"tenure"}},
			{Name: FieldStreet, Type: TypeString, Required: false,
				Aliases: []string{"street name", "street"}},
			{Name: FieldUnitCount, Type: TypeInt, Required: false,
				Aliases: []string{"number of units", "no. of units", "units"}},
			{Name: FieldNettPrice, Type: TypeDecimal, Required: false,
				Aliases: []string{"nett price ($)", "nett price"}},
			{Name: FieldAreaType, Type: TypeString, Required: false,
				Aliases: []string{"type of area", "area type"}},
			{Name: FieldMarketSegment, Type: TypeString, Required: false,
				Aliases: []string{"market segment", "segment"}},
		},
		NaturalKey: []string{FieldProjectName, FieldSaleDate, FieldPrice, FieldAreaSqft, FieldFloorRange},
	}
}

// Hash returns a stable hex digest over the schema's canonical
// serialization. Stored on every batch and compared across runs.
func (s *Schema) Hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version=%s\n", s.Version)
	for _, f := range s.Fields {
		aliases := append([]string(nil), f.Aliases...)
		sort.Strings(aliases)
		fmt.Fprintf(&b, "%s|%s|%t|%s\n", f.Name, f.Type, f.Required, strings.Join(aliases, ","))
	}
	fmt.Fprintf(&b, "key=%s\n", strings.Join(s.NaturalKey, ","))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Field returns the field spec for a canonical name, or nil.
func (s *Schema) Field(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// HeaderMismatchError reports required canonical fields with no matching
// CSV header. Fatal to the batch.
type HeaderMismatchError struct {
	Missing []string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("csv header missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Mapping is the result of resolving a CSV header row against the
// contract.
type Mapping struct {
	// Columns maps canonical field name -> column index in the CSV.
	Columns map[string]int
	// Unknown lists source headers that matched no alias. Non-fatal.
	Unknown []string
	// Fingerprint is the 16-hex header fingerprint of the source headers.
	Fingerprint string
}

// ResolveHeader maps CSV headers onto canonical fields via the alias table.
// A required field with no matching header yields HeaderMismatchError.
func (s *Schema) ResolveHeader(headers []string) (*Mapping, error) {
	byAlias := make(map[string]string) // normalized alias -> canonical name
	for _, f := range s.Fields {
		byAlias[normalizeHeader(f.Name)] = f.Name
		for _, a := range f.Aliases {
			byAlias[normalizeHeader(a)] = f.Name
		}
	}

	m := &Mapping{
		Columns:     make(map[string]int),
		Fingerprint: hashing.HeaderFingerprint(headers),
	}
	for i, h := range headers {
		name, ok := byAlias[normalizeHeader(h)]
		if !ok {
			m.Unknown = append(m.Unknown, strings.TrimSpace(h))
			continue
		}
		// First match wins when a file repeats a column.
		if _, dup := m.Columns[name]; !dup {
			m.Columns[name] = i
		}
	}

	var missing []string
	for _, f := range s.Fields {
		if f.Required {
			if _, ok := m.Columns[f.Name]; !ok {
				missing = append(missing, f.Name)
			}
		}
	}
	if len(missing) > 0 {
		return nil, &HeaderMismatchError{Missing: missing}
	}
	return m, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), " ")
}

// CompatibilityReport describes how the current contract relates to the one
// a previous batch was ingested under.
type CompatibilityReport struct {
	Compatible    bool     `json:"compatible"`
	Identical     bool     `json:"identical"`
	AddedFields   []string `json:"added_fields,omitempty"`
	RemovedFields []string `json:"removed_fields,omitempty"`
	RetypedFields []string `json:"retyped_fields,omitempty"`
}

// CheckCompatibility compares two schema versions. Additive changes (new
// optional fields) are compatible; removing or retyping a required field is
// breaking.
func CheckCompatibility(prev, curr *Schema) CompatibilityReport {
	r := CompatibilityReport{Compatible: true, Identical: prev.Hash() == curr.Hash()}

	prevByName := make(map[string]Field, len(prev.Fields))
	for _, f := range prev.Fields {
		prevByName[f.Name] = f
	}
	currByName := make(map[string]Field, len(curr.Fields))
	for _, f := range curr.Fields {
		currByName[f.Name] = f
	}

	for _, f := range curr.Fields {
		old, ok := prevByName[f.Name]
		if !ok {
			r.AddedFields = append(r.AddedFields, f.Name)
			if f.Required {
				r.Compatible = false
			}
			continue
		}
		if old.Type != f.Type {
			r.RetypedFields = append(r.RetypedFields, f.Name)
			if old.Required || f.Required {
				r.Compatible = false
			}
		}
	}
	for _, f := range prev.Fields {
		if _, ok := currByName[f.Name]; !ok {
			r.RemovedFields = append(r.RemovedFields, f.Name)
			if f.Required {
				r.Compatible = false
			}
		}
	}
	return r
}
