// Package rules holds the classifier registry: named pure functions over
// canonical fields. Every derived column in the pipeline (region, bedroom
// count, floor level, tenure class, property age bucket) comes from here,
// so the registry version stored on each batch pins exactly which logic
// produced a row.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Name identifies a registered classifier. The set is closed; there is no
// dynamic registration.
type Name string

const (
	RuleBedroom                  Name = "bedroom"
	RuleBedroomSimple            Name = "bedroom_simple"
	RuleFloorLevel               Name = "floor_level"
	RuleTenure                   Name = "tenure"
	RuleLeaseStartYear           Name = "lease_start_year"
	RuleRemainingLease           Name = "remaining_lease"
	RuleRegion                   Name = "region"
	RuleDistrictFromPostal       Name = "district_from_postal"
	RuleDistrictFromPlanningArea Name = "district_from_planning_area"
	RulePropertyAgeBucket        Name = "property_age_bucket"
)

// Inputs carries named classifier inputs.
type Inputs map[string]any

type classifier struct {
	inputs []string
	fn     func(Inputs) (any, error)
}

// Registry is a long-lived component created once at program start.
type Registry struct {
	rules map[Name]classifier
}

// New builds the registry with all classifiers registered.
func New() *Registry {
	r := &Registry{rules: make(map[Name]classifier)}
	r.register(RuleBedroom, []string{"area_sqft", "sale_type", "transaction_date"}, applyBedroom)
	r.register(RuleBedroomSimple, []string{"area_sqft"}, applyBedroomSimple)
	r.register(RuleFloorLevel, []string{"floor_range"}, applyFloorLevel)
	r.register(RuleTenure, []string{"tenure"}, applyTenure)
	r.register(RuleLeaseStartYear, []string{"tenure"}, applyLeaseStartYear)
	r.register(RuleRemainingLease, []string{"tenure", "transaction_date"}, applyRemainingLease)
	r.register(RuleRegion, []string{"district"}, applyRegion)
	r.register(RuleDistrictFromPostal, []string{"postal_code"}, applyDistrictFromPostal)
	r.register(RuleDistrictFromPlanningArea, []string{"planning_area"}, applyDistrictFromPlanningArea)
	r.register(RulePropertyAgeBucket, []string{"sale_type", "tenure_class", "transaction_year", "lease_start_year"}, applyAgeBucket)
	return r
}

func (r *Registry) register(name Name, inputs []string, fn func(Inputs) (any, error)) {
	r.rules[name] = classifier{inputs: inputs, fn: fn}
}

// ClassifierError wraps a failure inside a classifier. Non-fatal to a
// batch; callers fall back via ApplySafe.
type ClassifierError struct {
	Rule Name
	Err  error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// Apply runs a classifier. Unknown rules and missing inputs are errors.
func (r *Registry) Apply(name Name, in Inputs) (any, error) {
	c, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q", name)
	}
	for _, field := range c.inputs {
		if _, ok := in[field]; !ok {
			return nil, fmt.Errorf("rule %s: missing input %q", name, field)
		}
	}
	out, err := c.fn(in)
	if err != nil {
		return nil, &ClassifierError{Rule: name, Err: err}
	}
	return out, nil
}

// ApplySafe runs a classifier and returns fallback on any error. Outputs
// for a given (inputs, version) pair are deterministic either way.
func (r *Registry) ApplySafe(name Name, fallback any, in Inputs) any {
	out, err := r.Apply(name, in)
	if err != nil {
		return fallback
	}
	return out
}

// Names returns the registered rule names, sorted.
func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.rules))
	for n := range r.rules {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version returns a 12-char hash pinning the classifier set and its lookup
// tables. Recorded on every batch; any change to classification logic must
// change this value.
func (r *Registry) Version() string {
	var b strings.Builder
	for _, n := range r.Names() {
		fmt.Fprintf(&b, "%s(%s)\n", n, strings.Join(r.rules[n].inputs, ","))
	}
	b.WriteString(tableDigest())
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:12]
}

// tableDigest serializes every lookup table the classifiers consult, so
// table edits change the rules version even when signatures do not.
func tableDigest() string {
	var b strings.Builder

	districts := make([]string, 0, len(regionByDistrict))
	for d := range regionByDistrict {
		districts = append(districts, d)
	}
	sort.Strings(districts)
	for _, d := range districts {
		fmt.Fprintf(&b, "region:%s=%s\n", d, regionByDistrict[d])
	}

	for _, tier := range bedroomTiers {
		fmt.Fprintf(&b, "bedroom:%d=%v\n", tier.fromYear, tier.cutoffs)
	}
	fmt.Fprintf(&b, "bedroom:resale_shift=%d\n", resaleEraShiftYears)

	sectors := make([]int, 0, len(districtByPostalSector))
	for s := range districtByPostalSector {
		sectors = append(sectors, s)
	}
	sort.Ints(sectors)
	for _, s := range sectors {
		fmt.Fprintf(&b, "postal:%02d=%s\n", s, districtByPostalSector[s])
	}

	areas := make([]string, 0, len(districtByPlanningArea))
	for a := range districtByPlanningArea {
		areas = append(areas, a)
	}
	sort.Strings(areas)
	for _, a := range areas {
		fmt.Fprintf(&b, "planning:%s=%s\n", a, districtByPlanningArea[a])
	}

	for _, t := range ageBucketThresholds {
		fmt.Fprintf(&b, "age:%d=%s\n", t.maxAge, t.bucket)
	}
	return b.String()
}
