// Package executor evaluates parsed telemetry queries against the store,
// validating every referenced field against one catalog snapshot.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/internal/query/parser"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/types"
)

// tableName is the single queryable table.
const tableName = "telemetry"

// Catalog supplies the schema snapshot queries validate against.
type Catalog interface {
	Current() (*types.CatalogEntry, error)
}

// Result is a fully materialized query result. CatalogVersion and
// RefreshedAt identify the catalog snapshot the query was validated
// against, so callers can judge staleness.
type Result struct {
	Columns        []string                 `json:"columns"`
	Rows           []map[string]interface{} `json:"rows"`
	CatalogVersion int64                    `json:"catalog_version"`
	RefreshedAt    time.Time                `json:"catalog_refreshed_at"`
}

// Engine executes queries.
type Engine struct {
	store   store.Store
	catalog Catalog
	metrics *metrics.Metrics
}

// New creates a query Engine.
func New(st store.Store, cat Catalog, m *metrics.Metrics) *Engine {
	return &Engine{store: st, catalog: cat, metrics: m}
}

// Query parses, validates, and executes one query. Validation failures
// return an error and no rows; a query never yields partial results.
func (e *Engine) Query(ctx context.Context, input string) (*Result, error) {
	start := time.Now()

	q, err := parser.Parse(input)
	if err != nil {
		return nil, errors.NewQueryError(errors.CodeParseError, err.Error())
	}
	if q.Table != tableName {
		return nil, errors.NewQueryError(errors.CodeParseError,
			fmt.Sprintf("unknown table %q, only %q is queryable", q.Table, tableName))
	}

	// One snapshot for the whole query: validation and the reported
	// version always agree.
	entry, err := e.catalog.Current()
	if err != nil {
		return nil, err
	}
	columns, err := resolveColumns(q, entry)
	if err != nil {
		return nil, err
	}

	records, err := e.scan(ctx, q)
	if err != nil {
		return nil, err
	}

	rows, err := evaluate(ctx, q, columns, records)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return &Result{
		Columns:        columns,
		Rows:           rows,
		CatalogVersion: entry.Version,
		RefreshedAt:    entry.RefreshedAt,
	}, nil
}

// resolveColumns validates every referenced column against the catalog
// and returns the projection list. SELECT * expands to the full catalog
// field list.
func resolveColumns(q *parser.Query, entry *types.CatalogEntry) ([]string, error) {
	for _, name := range q.ReferencedColumns() {
		if entry.Field(name) == nil {
			return nil, errors.NewQueryError(errors.CodeUnknownField,
				fmt.Sprintf("unknown field %q (catalog version %d)", name, entry.Version))
		}
	}
	if !q.Star {
		return q.Columns, nil
	}
	columns := make([]string, len(entry.Fields))
	for i, f := range entry.Fields {
		columns[i] = f.Name
	}
	return columns, nil
}

// scan reads candidate records, pushing device, time range, and ordering
// into the store. The row limit is pushed down only when every predicate
// was absorbed by the scan bounds.
func (e *Engine) scan(ctx context.Context, q *parser.Query) ([]types.Record, error) {
	opts := store.ScanOptions{
		IncludeErrors: parser.IncludesErrorStatus(q.Where),
	}
	if q.OrderBy != nil {
		opts.Descending = q.OrderBy.Desc
	}

	pushedAll := true
	if id, ok := parser.DeviceEquality(q.Where); ok {
		opts.DeviceID = id
	}
	opts.StartTimestamp, opts.EndTimestamp = parser.TimestampBounds(q.Where)

	for _, p := range q.Where {
		if !pushedDown(p, opts) {
			pushedAll = false
			break
		}
	}
	if pushedAll && q.Limit != nil {
		opts.Limit = int(*q.Limit)
	}

	return e.store.Scan(ctx, opts)
}

// pushedDown reports whether the scan bounds fully capture the predicate.
func pushedDown(p parser.Predicate, opts store.ScanOptions) bool {
	switch p.Column {
	case "device_id":
		return p.Type == parser.PredicateCompare && p.Operator == "=" && opts.DeviceID != ""
	case "timestamp":
		switch p.Type {
		case parser.PredicateBetween:
			return isIntegral(p.Low) && isIntegral(p.High) &&
				opts.StartTimestamp != nil && opts.EndTimestamp != nil
		case parser.PredicateCompare:
			if !isIntegral(p.Value) {
				return false
			}
			switch p.Operator {
			case "=":
				return opts.StartTimestamp != nil && opts.EndTimestamp != nil
			case ">", ">=":
				return opts.StartTimestamp != nil
			case "<", "<=":
				return opts.EndTimestamp != nil
			}
			return false
		}
		return false
	default:
		return false
	}
}

// evaluate applies the full predicate set to each record and projects the
// requested columns, preserving scan order and honoring the limit.
func evaluate(ctx context.Context, q *parser.Query, columns []string, records []types.Record) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, 0, len(records))
	for i := range records {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.NewQueryError(errors.CodeUnexpected, "query cancelled")
			}
		}

		view := rowView(&records[i])
		if !matchAll(q.Where, view) {
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for _, col := range columns {
			row[col] = view[col] // absent payload fields project as nil
		}
		rows = append(rows, row)

		if q.Limit != nil && int64(len(rows)) >= *q.Limit {
			break
		}
	}
	return rows, nil
}

// rowView flattens a record into a queryable column map: the core record
// fields plus every payload field.
func rowView(r *types.Record) map[string]interface{} {
	view := make(map[string]interface{}, len(r.Data)+5)
	for k, v := range r.Data {
		view[k] = v
	}
	view["device_id"] = r.Key.DeviceID
	view["timestamp"] = r.Key.Timestamp
	view["status"] = string(r.Status)
	view["received_at"] = r.ReceivedAt.UnixNano()
	view["processed_at"] = r.ProcessedAt.UnixNano()
	return view
}

// matchAll evaluates the conjunction. A predicate on a field the row does
// not carry evaluates to false.
func matchAll(preds []parser.Predicate, view map[string]interface{}) bool {
	for _, p := range preds {
		value, ok := view[p.Column]
		if !ok || value == nil {
			return false
		}
		if !match(p, value) {
			return false
		}
	}
	return true
}

func match(p parser.Predicate, value interface{}) bool {
	switch p.Type {
	case parser.PredicateIn:
		for _, want := range p.Values {
			if cmp, ok := compare(value, want); ok && cmp == 0 {
				return true
			}
		}
		return false
	case parser.PredicateBetween:
		lo, okLo := compare(value, p.Low)
		hi, okHi := compare(value, p.High)
		return okLo && okHi && lo >= 0 && hi <= 0
	default:
		cmp, ok := compare(value, p.Value)
		if !ok {
			return false
		}
		switch p.Operator {
		case "=":
			return cmp == 0
		case "!=", "<>":
			return cmp != 0
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		}
		return false
	}
}

// compare orders a row value against a query literal. Numbers compare
// numerically across int and float representations; strings compare
// lexically. Mismatched kinds do not compare.
func compare(value, literal interface{}) (int, bool) {
	if a, ok := asFloat(value); ok {
		b, ok := asFloat(literal)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	}

	if a, ok := value.(string); ok {
		b, ok := literal.(string)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	}

	if a, ok := value.(bool); ok {
		b, ok := literal.(bool)
		if !ok {
			return 0, false
		}
		if a == b {
			return 0, true
		}
		return 1, true
	}

	return 0, false
}

func isIntegral(v interface{}) bool {
	switch x := v.(type) {
	case int64:
		return true
	case float64:
		return x == float64(int64(x))
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}
