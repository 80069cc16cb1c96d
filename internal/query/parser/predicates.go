package parser

// Pushdown helpers: the executor uses these to translate WHERE conjuncts
// into store scan bounds, leaving the rest for row-level evaluation.

// DeviceEquality returns the device ID when the predicates pin device_id
// to a single value with an equality comparison.
func DeviceEquality(preds []Predicate) (string, bool) {
	for _, p := range preds {
		if p.Column != "device_id" || p.Type != PredicateCompare || p.Operator != "=" {
			continue
		}
		if id, ok := p.Value.(string); ok {
			return id, true
		}
	}
	return "", false
}

// TimestampBounds derives inclusive [low, high] bounds from all timestamp
// predicates. Multiple conjuncts narrow the range; a nil bound is open.
func TimestampBounds(preds []Predicate) (low, high *int64) {
	tighten := func(lo, hi *int64) {
		if lo != nil && (low == nil || *lo > *low) {
			low = lo
		}
		if hi != nil && (high == nil || *hi < *high) {
			high = hi
		}
	}

	for _, p := range preds {
		if p.Column != "timestamp" {
			continue
		}
		switch p.Type {
		case PredicateBetween:
			lo, okLo := asInt64(p.Low)
			hi, okHi := asInt64(p.High)
			if okLo && okHi {
				tighten(&lo, &hi)
			}
		case PredicateCompare:
			v, ok := asInt64(p.Value)
			if !ok {
				continue
			}
			switch p.Operator {
			case "=":
				tighten(&v, &v)
			case ">=":
				tighten(&v, nil)
			case ">":
				lo := v + 1
				tighten(&lo, nil)
			case "<=":
				tighten(nil, &v)
			case "<":
				hi := v - 1
				tighten(nil, &hi)
			}
		}
	}
	return low, high
}

// IncludesErrorStatus reports whether the predicates explicitly reference
// the error status, which means error-flagged records must be scanned.
func IncludesErrorStatus(preds []Predicate) bool {
	for _, p := range preds {
		if p.Column != "status" {
			continue
		}
		switch p.Type {
		case PredicateCompare:
			if s, ok := p.Value.(string); ok && s == "error" && p.Operator == "=" {
				return true
			}
			// Any non-equality comparison can match the error status
			// lexically ('error' sorts below 'normal' and 'warning'),
			// so the scan must include error rows for the residual
			// evaluation to see them.
			if p.Operator != "=" {
				return true
			}
		case PredicateIn:
			for _, v := range p.Values {
				if s, ok := v.(string); ok && s == "error" {
					return true
				}
			}
		case PredicateBetween:
			// Range bounds on status may span 'error'.
			return true
		}
	}
	return false
}

// FilterByColumn returns the predicates that reference the given column.
func FilterByColumn(preds []Predicate, column string) []Predicate {
	var result []Predicate
	for _, p := range preds {
		if p.Column == column {
			result = append(result, p)
		}
	}
	return result
}

// asInt64 coerces a parsed literal to int64 when it is integral.
func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}
