package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// --- region ---

// Market segments as published by URA.
const (
	RegionCCR = "CCR"
	RegionRCR = "RCR"
	RegionOCR = "OCR"
)

var regionByDistrict = map[string]string{
	"D01": RegionCCR, "D02": RegionCCR, "D06": RegionCCR,
	"D09": RegionCCR, "D10": RegionCCR, "D11": RegionCCR,
	"D03": RegionRCR, "D04": RegionRCR, "D05": RegionRCR,
	"D07": RegionRCR, "D08": RegionRCR, "D12": RegionRCR,
	"D13": RegionRCR, "D14": RegionRCR, "D15": RegionRCR,
	"D20": RegionRCR,
	"D16": RegionOCR, "D17": RegionOCR, "D18": RegionOCR,
	"D19": RegionOCR, "D21": RegionOCR, "D22": RegionOCR,
	"D23": RegionOCR, "D24": RegionOCR, "D25": RegionOCR,
	"D26": RegionOCR, "D27": RegionOCR, "D28": RegionOCR,
}

// RegionForDistrict maps D01..D28 to its URA market segment.
func RegionForDistrict(district string) (string, error) {
	region, ok := regionByDistrict[strings.ToUpper(strings.TrimSpace(district))]
	if !ok {
		return "", fmt.Errorf("unknown district %q", district)
	}
	return region, nil
}

// SegmentDistricts expands a market segment to its district set, sorted.
// Used by query filters to turn segments[] into district predicates.
func SegmentDistricts(segment string) []string {
	segment = strings.ToUpper(strings.TrimSpace(segment))
	var out []string
	for d := 1; d <= 28; d++ {
		code := fmt.Sprintf("D%02d", d)
		if regionByDistrict[code] == segment {
			out = append(out, code)
		}
	}
	return out
}

func applyRegion(in Inputs) (any, error) {
	return RegionForDistrict(stringInput(in, "district"))
}

// --- bedroom ---

// bedroomTiers maps construction-era typical unit sizes to bedroom counts.
// Units shrank over time, so the cutoffs tighten for newer launches.
// cutoffs are the upper area bound (sqft, exclusive) for 1..4 bedrooms;
// anything above the last cutoff classifies as 5 ("5 or more").
type bedroomTier struct {
	fromYear int
	cutoffs  [4]float64
}

var bedroomTiers = []bedroomTier{
	{fromYear: 0, cutoffs: [4]float64{700, 1000, 1350, 1800}},
	{fromYear: 2010, cutoffs: [4]float64{600, 900, 1250, 1650}},
	{fromYear: 2018, cutoffs: [4]float64{550, 800, 1100, 1450}},
}

// resaleEraShiftYears backdates resale transactions when picking a tier:
// a resale unit was built well before its transaction date.
const resaleEraShiftYears = 8

// BedroomCount classifies a unit into 1..5 bedrooms from its area, sale
// type and transaction date. 5 means "5 or more".
func BedroomCount(areaSqft float64, saleType string, txDate time.Time) (int, error) {
	if areaSqft <= 0 {
		return 0, fmt.Errorf("non-positive area %v", areaSqft)
	}
	year := txDate.Year()
	if strings.EqualFold(strings.TrimSpace(saleType), "Resale") {
		year -= resaleEraShiftYears
	}
	tier := bedroomTiers[0]
	for _, t := range bedroomTiers {
		if year >= t.fromYear {
			tier = t
		}
	}
	return classifyByCutoffs(areaSqft, tier.cutoffs), nil
}

// BedroomCountSimple classifies from area only, using the middle tier.
func BedroomCountSimple(areaSqft float64) (int, error) {
	if areaSqft <= 0 {
		return 0, fmt.Errorf("non-positive area %v", areaSqft)
	}
	return classifyByCutoffs(areaSqft, bedroomTiers[1].cutoffs), nil
}

func classifyByCutoffs(area float64, cutoffs [4]float64) int {
	for i, c := range cutoffs {
		if area < c {
			return i + 1
		}
	}
	return 5
}

func applyBedroom(in Inputs) (any, error) {
	area, err := floatInput(in, "area_sqft")
	if err != nil {
		return nil, err
	}
	txDate, err := timeInput(in, "transaction_date")
	if err != nil {
		return nil, err
	}
	return BedroomCount(area, stringInput(in, "sale_type"), txDate)
}

func applyBedroomSimple(in Inputs) (any, error) {
	area, err := floatInput(in, "area_sqft")
	if err != nil {
		return nil, err
	}
	return BedroomCountSimple(area)
}

// --- floor level ---

// Floor level tiers derived from the normalized floor range.
const (
	FloorBasement = "basement"
	FloorLow      = "low"
	FloorMid      = "mid"
	FloorHigh     = "high"
	FloorVeryHigh = "very_high"
	FloorUnknown  = "unknown"
)

// FloorLevels returns the closed set of floor-level values.
func FloorLevels() []string {
	return []string{FloorBasement, FloorLow, FloorMid, FloorHigh, FloorVeryHigh, FloorUnknown}
}

var floorLowBoundRe = regexp.MustCompile(`^(B?)(\d{1,3})`)

// FloorLevel classifies a normalized "LL-HH" floor range into a tier by
// its low bound.
func FloorLevel(floorRange string) (string, error) {
	floorRange = strings.ToUpper(strings.TrimSpace(floorRange))
	if floorRange == "" || floorRange == "-" {
		return FloorUnknown, nil
	}
	m := floorLowBoundRe.FindStringSubmatch(floorRange)
	if m == nil {
		return FloorUnknown, nil
	}
	if m[1] == "B" {
		return FloorBasement, nil
	}
	low, _ := strconv.Atoi(m[2])
	switch {
	case low <= 5:
		return FloorLow, nil
	case low <= 15:
		return FloorMid, nil
	case low <= 30:
		return FloorHigh, nil
	default:
		return FloorVeryHigh, nil
	}
}

func applyFloorLevel(in Inputs) (any, error) {
	return FloorLevel(stringInput(in, "floor_range"))
}

// --- tenure ---

// Tenure classes. Filters consult only this field; the raw tenure string
// is kept for display.
const (
	TenureFreehold = "freehold"
	Tenure99       = "99"
	Tenure999      = "999"
)

var leaseYearsRe = regexp.MustCompile(`(\d{2,4})\s*[- ]?(?:yrs?|years?)`)
var leaseFromRe = regexp.MustCompile(`(?:commencing from|from|wef)\s*(\d{4})`)

// NormalizeTenure cleans the raw tenure string and derives its class.
// "Freehold", "999 yrs" and estates of 800+ years classify as freehold-like
// ({freehold, 999}); everything else, including unparseable strings, is 99.
func NormalizeTenure(raw string) (normalized, class string) {
	s := strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")
	lower := strings.ToLower(s)
	switch {
	case lower == "":
		return "", Tenure99
	case strings.Contains(lower, "freehold"):
		return "Freehold", TenureFreehold
	}
	if m := leaseYearsRe.FindStringSubmatch(lower); m != nil {
		years, _ := strconv.Atoi(m[1])
		if years >= 800 {
			return s, Tenure999
		}
	}
	return s, Tenure99
}

// TenureInfo is the tenure rule's output: the cleaned display string plus
// the class filters consult.
type TenureInfo struct {
	Normalized string
	Class      string
}

func applyTenure(in Inputs) (any, error) {
	normalized, class := NormalizeTenure(stringInput(in, "tenure"))
	return TenureInfo{Normalized: normalized, Class: class}, nil
}

// LeaseStartYear extracts the lease commencement year from a tenure
// string, e.g. "99 yrs lease commencing from 2018" -> 2018. Zero when the
// tenure carries no year (freehold, malformed).
func LeaseStartYear(raw string) (int, error) {
	m := leaseFromRe.FindStringSubmatch(strings.ToLower(raw))
	if m == nil {
		return 0, nil
	}
	year, err := strconv.Atoi(m[1])
	if err != nil || year < 1800 || year > 2200 {
		return 0, fmt.Errorf("implausible lease start year in %q", raw)
	}
	return year, nil
}

func applyLeaseStartYear(in Inputs) (any, error) {
	return LeaseStartYear(stringInput(in, "tenure"))
}

// FreeholdRemainingLease is the sentinel stored for freehold and 999-year
// estates. Filters never read it directly; they use tenure_class.
const FreeholdRemainingLease = 999

// RemainingLease computes the lease years left at transaction time.
// Freehold-like tenures return the 999 sentinel; leaseholds without a
// commencement year return 0 (unknown).
func RemainingLease(raw string, txDate time.Time) (int, error) {
	_, class := NormalizeTenure(raw)
	if class != Tenure99 {
		return FreeholdRemainingLease, nil
	}
	start, err := LeaseStartYear(raw)
	if err != nil || start == 0 {
		return 0, err
	}
	term := 99
	if m := leaseYearsRe.FindStringSubmatch(strings.ToLower(raw)); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil {
			term = n
		}
	}
	remaining := term - (txDate.Year() - start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func applyRemainingLease(in Inputs) (any, error) {
	txDate, err := timeInput(in, "transaction_date")
	if err != nil {
		return nil, err
	}
	return RemainingLease(stringInput(in, "tenure"), txDate)
}

// --- district lookups ---

// districtByPostalSector maps the first two digits of a Singapore postal
// code to its district.
var districtByPostalSector = map[int]string{
	1: "D01", 2: "D01", 3: "D01", 4: "D01", 5: "D01", 6: "D01",
	7: "D02", 8: "D02",
	14: "D03", 15: "D03", 16: "D03",
	9: "D04", 10: "D04",
	11: "D05", 12: "D05", 13: "D05",
	17: "D06",
	18: "D07", 19: "D07",
	20: "D08", 21: "D08",
	22: "D09", 23: "D09",
	24: "D10", 25: "D10", 26: "D10", 27: "D10",
	28: "D11", 29: "D11", 30: "D11",
	31: "D12", 32: "D12", 33: "D12",
	34: "D13", 35: "D13", 36: "D13", 37: "D13",
	38: "D14", 39: "D14", 40: "D14", 41: "D14",
	42: "D15", 43: "D15", 44: "D15", 45: "D15",
	46: "D16", 47: "D16", 48: "D16",
	49: "D17", 50: "D17", 81: "D17",
	51: "D18", 52: "D18",
	53: "D19", 54: "D19", 55: "D19", 82: "D19",
	56: "D20", 57: "D20",
	58: "D21", 59: "D21",
	60: "D22", 61: "D22", 62: "D22", 63: "D22", 64: "D22",
	65: "D23", 66: "D23", 67: "D23", 68: "D23",
	69: "D24", 70: "D24", 71: "D24",
	72: "D25", 73: "D25",
	77: "D26", 78: "D26",
	75: "D27", 76: "D27",
	79: "D28", 80: "D28",
}

// DistrictFromPostal derives the district from a 6-digit postal code.
func DistrictFromPostal(postal string) (string, error) {
	postal = strings.TrimSpace(postal)
	if len(postal) < 2 {
		return "", fmt.Errorf("postal code too short: %q", postal)
	}
	sector, err := strconv.Atoi(postal[:2])
	if err != nil {
		return "", fmt.Errorf("non-numeric postal code %q", postal)
	}
	district, ok := districtByPostalSector[sector]
	if !ok {
		return "", fmt.Errorf("no district for postal sector %02d", sector)
	}
	return district, nil
}

func applyDistrictFromPostal(in Inputs) (any, error) {
	return DistrictFromPostal(stringInput(in, "postal_code"))
}

var districtByPlanningArea = map[string]string{
	"downtown core": "D01", "marina south": "D01",
	"outram": "D02", "chinatown": "D02",
	"queenstown": "D03", "alexandra": "D03", "tiong bahru": "D03",
	"sentosa": "D04", "harbourfront": "D04", "telok blangah": "D04",
	"clementi": "D05", "pasir panjang": "D05", "west coast": "D05",
	"city hall": "D06", "clarke quay": "D06",
	"rochor": "D07", "bugis": "D07", "beach road": "D07",
	"little india": "D08", "farrer park": "D08",
	"orchard": "D09", "river valley": "D09",
	"tanglin": "D10", "bukit timah": "D10", "holland": "D10",
	"novena": "D11", "newton": "D11", "thomson": "D11",
	"toa payoh": "D12", "balestier": "D12", "serangoon road": "D12",
	"macpherson": "D13", "potong pasir": "D13",
	"geylang": "D14", "eunos": "D14", "paya lebar": "D14",
	"marine parade": "D15", "katong": "D15", "joo chiat": "D15",
	"bedok": "D16", "upper east coast": "D16", "siglap": "D16",
	"changi": "D17", "loyang": "D17",
	"tampines": "D18", "pasir ris": "D18",
	"serangoon": "D19", "hougang": "D19", "punggol": "D19", "sengkang": "D19",
	"bishan": "D20", "ang mo kio": "D20",
	"upper bukit timah": "D21", "clementi park": "D21",
	"jurong": "D22", "boon lay": "D22", "tuas": "D22",
	"bukit batok": "D23", "choa chu kang": "D23", "hillview": "D23",
	"lim chu kang": "D24", "tengah": "D24",
	"kranji": "D25", "woodlands": "D25", "woodgrove": "D25",
	"upper thomson": "D26", "springleaf": "D26",
	"yishun": "D27", "sembawang": "D27",
	"seletar": "D28", "yio chu kang": "D28",
}

// DistrictFromPlanningArea derives the district from a URA planning area
// name.
func DistrictFromPlanningArea(area string) (string, error) {
	key := strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(area)), " "))
	district, ok := districtByPlanningArea[key]
	if !ok {
		return "", fmt.Errorf("unknown planning area %q", area)
	}
	return district, nil
}

func applyDistrictFromPlanningArea(in Inputs) (any, error) {
	return DistrictFromPlanningArea(stringInput(in, "planning_area"))
}

// --- property age bucket ---

// Age buckets for analytics grouping. The query layer builds its CASE
// expression from these strings; they are not duplicated in SQL.
const (
	AgeBucketNew     = "new"
	AgeBucket0to5    = "0-5y"
	AgeBucket6to10   = "6-10y"
	AgeBucket11to20  = "11-20y"
	AgeBucket21Plus  = "21y+"
	AgeBucketUnknown = "unknown"
)

type ageThreshold struct {
	maxAge int // inclusive upper bound in years
	bucket string
}

var ageBucketThresholds = []ageThreshold{
	{maxAge: 5, bucket: AgeBucket0to5},
	{maxAge: 10, bucket: AgeBucket6to10},
	{maxAge: 20, bucket: AgeBucket11to20},
}

// AgeBuckets returns the closed set of bucket values in display order.
func AgeBuckets() []string {
	return []string{AgeBucketNew, AgeBucket0to5, AgeBucket6to10, AgeBucket11to20, AgeBucket21Plus, AgeBucketUnknown}
}

// AgeThresholds exposes the (maxAge, bucket) ladder so the aggregation
// engine can compile the identical classification as a SQL CASE.
func AgeThresholds() []struct {
	MaxAge int
	Bucket string
} {
	out := make([]struct {
		MaxAge int
		Bucket string
	}, len(ageBucketThresholds))
	for i, t := range ageBucketThresholds {
		out[i] = struct {
			MaxAge int
			Bucket string
		}{t.maxAge, t.bucket}
	}
	return out
}

// PropertyAgeBucket classifies a transaction by building age at sale time.
func PropertyAgeBucket(saleType, tenureClass string, txYear, leaseStartYear int) (string, error) {
	if strings.EqualFold(strings.TrimSpace(saleType), "New Sale") {
		return AgeBucketNew, nil
	}
	if leaseStartYear <= 0 {
		return AgeBucketUnknown, nil
	}
	age := txYear - leaseStartYear
	if age < 0 {
		return AgeBucketUnknown, nil
	}
	for _, t := range ageBucketThresholds {
		if age <= t.maxAge {
			return t.bucket, nil
		}
	}
	return AgeBucket21Plus, nil
}

func applyAgeBucket(in Inputs) (any, error) {
	txYear, err := intInput(in, "transaction_year")
	if err != nil {
		return nil, err
	}
	leaseStart, err := intInput(in, "lease_start_year")
	if err != nil {
		return nil, err
	}
	return PropertyAgeBucket(stringInput(in, "sale_type"), stringInput(in, "tenure_class"), txYear, leaseStart)
}

// --- input coercion helpers ---

func stringInput(in Inputs, key string) string {
	v, _ := in[key].(string)
	return v
}

func floatInput(in Inputs, key string) (float64, error) {
	switch v := in[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("input %q is not numeric (%T)", key, in[key])
	}
}

func intInput(in Inputs, key string) (int, error) {
	switch v := in[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("input %q is not an integer (%T)", key, in[key])
	}
}

func timeInput(in Inputs, key string) (time.Time, error) {
	v, ok := in[key].(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("input %q is not a time (%T)", key, in[key])
	}
	return v, nil
}
