package memory

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"rxfirestore/internal/firestore/domain/model"
)

// typeRank orders values of different types the way the document store
// orders mixed-type fields: null, booleans, numbers, timestamps, strings,
// bytes, arrays, maps.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []byte:
		return 5
	case []any:
		return 6
	case map[string]any:
		return 7
	default:
		return 8
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// compareValues returns -1, 0 or 1.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	case []byte:
		return bytes.Compare(av, b.([]byte))
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := compareValues(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(av), len(bv))
	case map[string]any:
		bv := b.(map[string]any)
		ak, bk := sortedKeys(av), sortedKeys(bv)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := compareValues(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return compareInts(len(ak), len(bk))
	}
	if ra == 2 {
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type orderKey struct {
	path *model.FieldPath
	desc bool
}

func orderKeys(orders []model.Order) ([]orderKey, error) {
	keys := make([]orderKey, 0, len(orders))
	for _, o := range orders {
		fp, err := model.NewFieldPath(o.Field)
		if err != nil {
			return nil, err
		}
		keys = append(keys, orderKey{path: fp, desc: o.Direction == model.Descending})
	}
	return keys, nil
}

// hasOrderFields reports whether data carries every ordered field.
// Documents missing one are left out of ordered results.
func hasOrderFields(keys []orderKey, data map[string]any) bool {
	for _, k := range keys {
		if _, ok := k.path.Lookup(data); !ok {
			return false
		}
	}
	return true
}

// sortRecords orders recs by keys, then by document path.
func sortRecords(recs []*record, keys []orderKey) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := k.path.Lookup(recs[i].data)
			vj, _ := k.path.Lookup(recs[j].data)
			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return recs[i].ref.Path < recs[j].ref.Path
	})
}
