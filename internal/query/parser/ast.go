package parser

import (
	"fmt"
	"strings"
)

// Query represents a parsed telemetry query. The grammar is deliberately
// small: a flat projection over one table, a conjunction of predicates,
// optional ordering by timestamp, and an optional row limit.
type Query struct {
	Columns []string // empty with Star=true means SELECT *
	Star    bool
	Table   string
	Where   []Predicate // implicitly ANDed
	OrderBy *OrderClause
	Limit   *int64
}

// String returns the SQL representation of the query.
func (q *Query) String() string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if q.Star {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(q.Columns, ", "))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(q.Table)

	if len(q.Where) > 0 {
		sb.WriteString(" WHERE ")
		preds := make([]string, len(q.Where))
		for i, p := range q.Where {
			preds[i] = p.String()
		}
		sb.WriteString(strings.Join(preds, " AND "))
	}

	if q.OrderBy != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.OrderBy.String())
	}

	if q.Limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *q.Limit))
	}

	return sb.String()
}

// ReferencedColumns returns every column named anywhere in the query:
// the projection plus all predicate columns. SELECT * contributes nothing.
func (q *Query) ReferencedColumns() []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			cols = append(cols, name)
		}
	}
	for _, c := range q.Columns {
		add(c)
	}
	for _, p := range q.Where {
		add(p.Column)
	}
	if q.OrderBy != nil {
		add(q.OrderBy.Column)
	}
	return cols
}

// OrderClause represents the ORDER BY clause.
type OrderClause struct {
	Column string
	Desc   bool
}

// String returns the SQL representation of the order clause.
func (o *OrderClause) String() string {
	if o.Desc {
		return fmt.Sprintf("%s DESC", o.Column)
	}
	return fmt.Sprintf("%s ASC", o.Column)
}

// PredicateType represents the type of a predicate.
type PredicateType int

const (
	PredicateCompare PredicateType = iota // column <op> value
	PredicateIn                           // column IN (v1, v2, ...)
	PredicateBetween                      // column BETWEEN low AND high
)

// Predicate represents one conjunct of the WHERE clause.
type Predicate struct {
	Type     PredicateType
	Column   string
	Operator string        // =, !=, <, >, <=, >= for PredicateCompare
	Value    interface{}   // comparison value
	Values   []interface{} // IN values
	Low      interface{}   // BETWEEN low bound
	High     interface{}   // BETWEEN high bound
}

// String returns the SQL representation of the predicate.
func (p Predicate) String() string {
	switch p.Type {
	case PredicateIn:
		values := make([]string, len(p.Values))
		for i, v := range p.Values {
			values[i] = literalString(v)
		}
		return fmt.Sprintf("%s IN (%s)", p.Column, strings.Join(values, ", "))
	case PredicateBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", p.Column, literalString(p.Low), literalString(p.High))
	default:
		return fmt.Sprintf("%s %s %s", p.Column, p.Operator, literalString(p.Value))
	}
}

// literalString renders a predicate value back as SQL.
func literalString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("'%s'", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
