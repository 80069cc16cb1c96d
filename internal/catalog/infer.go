package catalog

import (
	"math"
	"sort"

	"github.com/telemetra/telemetra/pkg/types"
)

// coreFields are present on every record regardless of payload shape.
var coreFields = []types.FieldDef{
	{Name: "device_id", Type: types.FieldTypeString},
	{Name: "timestamp", Type: types.FieldTypeInteger},
	{Name: "status", Type: types.FieldTypeString},
	{Name: "received_at", Type: types.FieldTypeInteger},
	{Name: "processed_at", Type: types.FieldTypeInteger},
}

// fieldStats accumulates observations for one payload key across the sample.
type fieldStats struct {
	seen     int
	strings  int
	numbers  int
	integers int
	booleans int
	others   int
}

func (s *fieldStats) observe(v interface{}) {
	s.seen++
	switch x := v.(type) {
	case string:
		s.strings++
	case bool:
		s.booleans++
	case float64:
		s.numbers++
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			s.integers++
		}
	case int:
		s.numbers++
		s.integers++
	case int64:
		s.numbers++
		s.integers++
	default:
		s.others++
	}
}

// resolve picks the narrowest type consistent with every observed value.
// Mixed or unrecognized kinds widen to string.
func (s *fieldStats) resolve() types.FieldType {
	switch {
	case s.others > 0:
		return types.FieldTypeString
	case s.booleans == s.seen:
		return types.FieldTypeBoolean
	case s.strings == s.seen:
		return types.FieldTypeString
	case s.numbers == s.seen:
		if s.integers == s.seen {
			return types.FieldTypeInteger
		}
		return types.FieldTypeNumber
	default:
		return types.FieldTypeString
	}
}

// InferFields derives the field list for a catalog entry from a sample of
// stored records. Core record fields come first, then payload fields in
// name order. A payload field absent from some sampled records is nullable.
func InferFields(records []types.Record) []types.FieldDef {
	stats := make(map[string]*fieldStats)
	sampled := 0
	for i := range records {
		if records[i].Data == nil {
			continue
		}
		sampled++
		for name, value := range records[i].Data {
			st := stats[name]
			if st == nil {
				st = &fieldStats{}
				stats[name] = st
			}
			st.observe(value)
		}
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]types.FieldDef, 0, len(coreFields)+len(names))
	fields = append(fields, coreFields...)
	for _, name := range names {
		st := stats[name]
		fields = append(fields, types.FieldDef{
			Name:     name,
			Type:     st.resolve(),
			Nullable: st.seen < sampled,
		})
	}
	return fields
}
