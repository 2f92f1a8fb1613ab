package repository

import (
	"context"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// QueryRows executes a composed aggregation statement and returns generic
// row maps keyed by output column name. The SQL text always comes from the
// query engine's static fragments; only args are caller-supplied.
func (r *Repository) QueryRows(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue flattens pgx driver types into plain Go values so the
// query layer can post-process and serialize rows without driver imports.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		return val.Int64()
	case time.Time:
		return val.Format("2006-01-02")
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	default:
		return v
	}
}
