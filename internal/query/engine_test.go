package query

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeRower struct {
	rows    []map[string]any
	err     error
	lastSQL string
	args    []any
}

func (f *fakeRower) QueryRows(_ context.Context, sql string, args []any) ([]map[string]any, error) {
	f.lastSQL = sql
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	out := make([]map[string]any, len(f.rows))
	for i, r := range f.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

type fakeUnits map[string]int

func (f fakeUnits) TotalUnits(project string) (int, bool) {
	n, ok := f[project]
	return n, ok
}

func mustParams(t *testing.T, values url.Values) *Params {
	t.Helper()
	p, err := ParseParams(values)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	return p
}

func TestCompileNeverEmbedsUserInput(t *testing.T) {
	t.Parallel()

	hostile := []string{
		"'; DROP TABLE transactions; --",
		"Robert\"); DELETE FROM etl_batches",
		"%' OR '1'='1",
	}
	for _, inject := range hostile {
		p := mustParams(t, url.Values{
			"group_by":      {"district"},
			"project":       {inject},
			"sale_type":     {"Resale"},
			"project_exact": {""},
		})
		sql, args := compile(p)
		if strings.Contains(sql, inject) {
			t.Fatalf("user input leaked into SQL: %s", sql)
		}
		if strings.Contains(sql, "DROP") || strings.Contains(sql, "DELETE") {
			t.Fatalf("hostile keyword in SQL: %s", sql)
		}
		// The value must still travel, escaped, as a parameter.
		found := false
		for _, a := range args {
			if s, ok := a.(string); ok && strings.Contains(s, "DROP TABLE") {
				found = true
			}
		}
		if inject == hostile[0] && !found {
			t.Fatal("project filter value missing from args")
		}
	}
}

func TestCompileShape(t *testing.T) {
	t.Parallel()

	t.Run("region count", func(t *testing.T) {
		t.Parallel()
		sql, args := compile(mustParams(t, url.Values{"group_by": {"region"}}))
		for _, want := range []string{
			"region AS region",
			"COUNT(*) AS count",
			"is_outlier = FALSE",
			"GROUP BY 1",
			"ORDER BY 1",
			"LIMIT $1",
		} {
			if !strings.Contains(sql, want) {
				t.Fatalf("SQL missing %q: %s", want, sql)
			}
		}
		if len(args) != 1 || args[0] != DefaultLimit {
			t.Fatalf("args = %v", args)
		}
	})

	t.Run("month grouping selects internal columns", func(t *testing.T) {
		t.Parallel()
		sql, _ := compile(mustParams(t, url.Values{"group_by": {"month"}, "metrics": {"median_psf"}}))
		for _, want := range []string{
			"AS _year",
			"AS _month",
			"PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY psf) AS median_psf",
			"GROUP BY 1, 2",
			"ORDER BY 1, 2",
		} {
			if !strings.Contains(sql, want) {
				t.Fatalf("SQL missing %q: %s", want, sql)
			}
		}
	})

	t.Run("project grouping orders by volume", func(t *testing.T) {
		t.Parallel()
		sql, _ := compile(mustParams(t, url.Values{"group_by": {"project"}}))
		if !strings.Contains(sql, "ORDER BY count DESC") {
			t.Fatalf("SQL missing volume ordering: %s", sql)
		}
	})

	t.Run("no grouping yields one summary row", func(t *testing.T) {
		t.Parallel()
		sql, _ := compile(mustParams(t, url.Values{"metrics": {"avg_psf"}}))
		if strings.Contains(sql, "GROUP BY") || strings.Contains(sql, "ORDER BY") {
			t.Fatalf("ungrouped query must not group or order: %s", sql)
		}
	})

	t.Run("age band case uses rule buckets", func(t *testing.T) {
		t.Parallel()
		sql, _ := compile(mustParams(t, url.Values{"group_by": {"age_band"}}))
		for _, bucket := range []string{"'new'", "'0-5y'", "'21y+'", "'unknown'"} {
			if !strings.Contains(sql, bucket) {
				t.Fatalf("age band CASE missing %s: %s", bucket, sql)
			}
		}
	})
}

func TestAggregatePostProcessing(t *testing.T) {
	t.Parallel()

	db := &fakeRower{rows: []map[string]any{
		{"_year": int64(2024), "_month": int64(2), "count": int64(7), "median_psf": 2146.39841},
		{"_year": int64(2024), "_month": int64(11), "count": int64(3), "median_psf": 1980.0},
	}}
	eng := NewEngine(db, nil, time.Second)

	res, err := eng.Aggregate(context.Background(), mustParams(t, url.Values{
		"group_by": {"month"},
		"metrics":  {"median_psf"},
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Meta.TotalRecords != 2 {
		t.Fatalf("total_records = %d", res.Meta.TotalRecords)
	}
	row := res.Data[0]
	if row["month"] != "2024-02" {
		t.Fatalf("month = %v", row["month"])
	}
	if _, ok := row["_year"]; ok {
		t.Fatalf("internal key leaked: %v", row)
	}
	if row["median_psf"] != 2146.4 {
		t.Fatalf("median_psf not rounded: %v", row["median_psf"])
	}
	if row["count"] != int64(7) {
		t.Fatalf("count = %v (%T)", row["count"], row["count"])
	}
	if res.Data[1]["month"] != "2024-11" {
		t.Fatalf("month = %v", res.Data[1]["month"])
	}
}

func TestAggregateQuarterFormatting(t *testing.T) {
	t.Parallel()

	db := &fakeRower{rows: []map[string]any{
		{"_year": int64(2023), "_quarter": int64(4), "count": int64(12)},
	}}
	res, err := NewEngine(db, nil, time.Second).Aggregate(context.Background(),
		mustParams(t, url.Values{"group_by": {"quarter"}}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Data[0]["quarter"] != "2023-Q4" {
		t.Fatalf("quarter = %v", res.Data[0]["quarter"])
	}
}

func TestAggregateUnitsJoin(t *testing.T) {
	t.Parallel()

	db := &fakeRower{rows: []map[string]any{
		{"project": "The Continuum", "count": int64(400)},
		{"project": "Pinetree Hill", "count": int64(600)}, // over side-table units
		{"project": "Unknown Towers", "count": int64(5)},
	}}
	units := fakeUnits{"The Continuum": 816, "Pinetree Hill": 520}
	eng := NewEngine(db, units, time.Second)

	res, err := eng.Aggregate(context.Background(), mustParams(t, url.Values{
		"group_by": {"project"},
		"metrics":  {"total_units"},
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	first := res.Data[0]
	if first["total_units"] != int64(816) {
		t.Fatalf("total_units = %v", first["total_units"])
	}
	if first["percent_sold"] != 49.02 {
		t.Fatalf("percent_sold = %v", first["percent_sold"])
	}
	if first["unsold_inventory"] != int64(416) {
		t.Fatalf("unsold_inventory = %v", first["unsold_inventory"])
	}

	over := res.Data[1]
	if over["percent_sold"] != 100.0 {
		t.Fatalf("percent_sold must cap at 100, got %v", over["percent_sold"])
	}
	if over["unsold_inventory"] != int64(0) {
		t.Fatalf("unsold_inventory must floor at 0, got %v", over["unsold_inventory"])
	}

	unknown := res.Data[2]
	if unknown["total_units"] != nil {
		t.Fatalf("unknown project total_units = %v", unknown["total_units"])
	}
	if _, ok := unknown["percent_sold"]; ok {
		t.Fatal("unknown project must not report percent_sold")
	}
}

func TestAggregateTypedErrors(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		db := &fakeRower{err: context.DeadlineExceeded}
		_, err := NewEngine(db, nil, time.Second).Aggregate(context.Background(),
			mustParams(t, url.Values{"group_by": {"region"}}))
		var te *TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want TimeoutError", err)
		}
	})

	t.Run("execution failure hides driver message", func(t *testing.T) {
		t.Parallel()
		db := &fakeRower{err: errors.New("pq: relation blown up at 10.0.0.7")}
		_, err := NewEngine(db, nil, time.Second).Aggregate(context.Background(),
			mustParams(t, url.Values{"group_by": {"region"}}))
		var qe *QueryExecutionError
		if !errors.As(err, &qe) {
			t.Fatalf("err = %v, want QueryExecutionError", err)
		}
		if strings.Contains(qe.Error(), "10.0.0.7") {
			t.Fatalf("driver detail leaked: %s", qe.Error())
		}
		if len(qe.Fingerprint) != 12 {
			t.Fatalf("fingerprint = %q", qe.Fingerprint)
		}
	})
}
