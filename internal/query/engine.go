package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

// Rower executes a composed statement. Satisfied by *repository.Repository.
type Rower interface {
	QueryRows(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// UnitsSource resolves a project name to its total unit count for the
// percent_sold post-processing step.
type UnitsSource interface {
	TotalUnits(project string) (int, bool)
}

// Meta is the response envelope's meta block.
type Meta struct {
	TotalRecords   int            `json:"total_records"`
	FiltersApplied map[string]any `json:"filters_applied"`
	GroupBy        []string       `json:"group_by"`
	Metrics        []string       `json:"metrics"`
	ElapsedMS      int64          `json:"elapsed_ms"`
	CacheHit       bool           `json:"cache_hit"`
}

// Result is one aggregation response.
type Result struct {
	Data []map[string]any `json:"data"`
	Meta Meta             `json:"meta"`
}

// Engine composes and executes aggregation queries. All SQL text comes
// from the static token tables; user values only ever appear as query
// parameters.
type Engine struct {
	db      Rower
	units   UnitsSource
	timeout time.Duration
}

func NewEngine(db Rower, units UnitsSource, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Engine{db: db, units: units, timeout: timeout}
}

// Aggregate runs one validated request against the production table.
func (e *Engine) Aggregate(ctx context.Context, p *Params) (*Result, error) {
	sql, args := compile(p)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryRows(ctx, sql, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Elapsed: time.Since(start).Round(time.Millisecond).String()}
		}
		qerr := &QueryExecutionError{Fingerprint: fingerprint(sql), Err: err}
		log.Printf("[query] %s: %v", qerr.Fingerprint, err)
		return nil, qerr
	}

	for _, row := range rows {
		postProcessRow(row)
	}
	if p.WantUnits {
		e.joinUnits(rows)
	}

	metrics := append([]string{MetricCount}, p.Metrics...)
	if p.WantUnits {
		metrics = append(metrics, MetricTotalUnits)
	}
	return &Result{
		Data: rows,
		Meta: Meta{
			TotalRecords:   len(rows),
			FiltersApplied: p.Filters.Applied(),
			GroupBy:        append([]string{}, p.GroupBy...),
			Metrics:        metrics,
			ElapsedMS:      time.Since(start).Milliseconds(),
		},
	}, nil
}

// compile assembles the statement from static fragments. Group columns come
// first, then count, then the requested metrics; GROUP BY and ORDER BY are
// positional.
func compile(p *Params) (string, []any) {
	var cols []groupColumn
	for _, tok := range p.GroupBy {
		cols = append(cols, groupSpecs[tok]...)
	}

	var sel []string
	for _, c := range cols {
		sel = append(sel, c.Expr+" AS "+c.Alias)
	}
	sel = append(sel, metricExprs[MetricCount]+" AS count")
	for _, m := range p.Metrics {
		sel = append(sel, metricExprs[m]+" AS "+m)
	}

	preds, args := p.Filters.predicates()

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(sel, ", "))
	b.WriteString(" FROM transactions WHERE ")
	b.WriteString(strings.Join(preds, " AND "))

	if len(cols) > 0 {
		positions := make([]string, len(cols))
		for i := range cols {
			positions[i] = fmt.Sprintf("%d", i+1)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(positions, ", "))

		if contains(p.GroupBy, GroupProject) {
			b.WriteString(" ORDER BY count DESC")
		} else {
			b.WriteString(" ORDER BY ")
			b.WriteString(strings.Join(positions, ", "))
		}
	}

	args = append(args, p.Filters.Limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	return b.String(), args
}

// postProcessRow folds internal year/month/quarter columns into formatted
// keys, coerces count to int64 and rounds metric floats to 2 decimals.
func postProcessRow(row map[string]any) {
	if y, m, ok := intPair(row, "_year", "_month"); ok {
		row["month"] = fmt.Sprintf("%04d-%02d", y, m)
	}
	if y, q, ok := intPair(row, "_year", "_quarter"); ok {
		row["quarter"] = fmt.Sprintf("%d-Q%d", y, q)
	}
	delete(row, "_year")
	delete(row, "_month")
	delete(row, "_quarter")

	for k, v := range row {
		switch val := v.(type) {
		case float64:
			row[k] = math.Round(val*100) / 100
		case float32:
			row[k] = math.Round(float64(val)*100) / 100
		}
	}
	if c, ok := row["count"]; ok {
		row["count"] = toInt64(c)
	}
}

// joinUnits annotates project rows with inventory figures from the side
// table. percent_sold is capped at 100: unit counts lag new launches.
func (e *Engine) joinUnits(rows []map[string]any) {
	if e.units == nil {
		return
	}
	for _, row := range rows {
		name, _ := row["project"].(string)
		units, ok := e.units.TotalUnits(name)
		if !ok || units <= 0 {
			row["total_units"] = nil
			continue
		}
		sold := toInt64(row["count"])
		pct := float64(sold) / float64(units) * 100
		if pct > 100 {
			pct = 100
		}
		unsold := int64(units) - sold
		if unsold < 0 {
			unsold = 0
		}
		row["total_units"] = int64(units)
		row["percent_sold"] = math.Round(pct*100) / 100
		row["unsold_inventory"] = unsold
	}
}

func intPair(row map[string]any, a, b string) (int64, int64, bool) {
	av, aok := row[a]
	bv, bok := row[b]
	if !aok || !bok {
		return 0, 0, false
	}
	return toInt64(av), toInt64(bv), true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// fingerprint identifies a compiled statement in logs without reproducing
// its text.
func fingerprint(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])[:12]
}
