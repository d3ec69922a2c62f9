package store

import (
	"sort"
	"strings"

	"github.com/nbarak/shekelbot/internal/service"
)

// matches evaluates a filter against a record in Go. Used by the
// backends that cannot push predicates down to the server (SQLite,
// in-memory).
func matches(r service.Record, f service.Filter) bool {
	for _, c := range f.Conditions {
		if !matchesCondition(r, c) {
			return false
		}
	}
	return true
}

func matchesCondition(r service.Record, c service.Condition) bool {
	have, ok := r.Fields[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case service.OpEq:
		return compareValues(have, c.Value) == 0
	case service.OpContains:
		haveStr, ok1 := have.(string)
		wantStr, ok2 := c.Value.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(haveStr), strings.ToLower(wantStr))
	case service.OpGTE:
		return compareValues(have, c.Value) >= 0
	case service.OpLTE:
		return compareValues(have, c.Value) <= 0
	}
	return false
}

// compareValues orders two field values. Dates are stored as ISO
// strings so lexical comparison gives chronological order; numbers
// compare numerically.
func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(asString(a), asString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// applyQuery sorts and limits a filtered record set.
func applyQuery(records []service.Record, q service.Query) []service.Record {
	if q.SortField != "" {
		sort.SliceStable(records, func(i, j int) bool {
			cmp := compareValues(records[i].Fields[q.SortField], records[j].Fields[q.SortField])
			if q.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records
}
