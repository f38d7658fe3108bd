package oracle

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Snapshot is the set of primary keys present in a table at one moment.
// Count always equals len(IDs).
type Snapshot struct {
	IDs   map[string]struct{}
	Count int
}

// NewSnapshot builds a Snapshot from keys, de-duplicating them.
func NewSnapshot(keys []string) Snapshot {
	ids := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		ids[k] = struct{}{}
	}
	return Snapshot{IDs: ids, Count: len(ids)}
}

// Has reports whether id is in the snapshot.
func (s Snapshot) Has(id string) bool {
	_, ok := s.IDs[id]
	return ok
}

// Sorted returns the keys in numeric order when every key is an integer,
// lexical order otherwise.
func (s Snapshot) Sorted() []string {
	out := make([]string, 0, len(s.IDs))
	numeric := true
	for k := range s.IDs {
		out = append(out, k)
		if _, err := strconv.ParseInt(k, 10, 64); err != nil {
			numeric = false
		}
	}
	if numeric {
		slices.SortFunc(out, func(a, b string) int {
			x, _ := strconv.ParseInt(a, 10, 64)
			y, _ := strconv.ParseInt(b, 10, 64)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		})
		return out
	}
	slices.Sort(out)
	return out
}

// Key normalizes an identity value from either side of the comparison to
// its string form, so that SQL int64 7, JSON number 7 and "7" agree.
func Key(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case []byte:
		return Key(string(x))
	case json.Number:
		return Key(string(x))
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(x), 10), true
	default:
		return "", false
	}
}

// Int converts an integer-valued store or JSON value to int64.
func Int(v any) (int64, bool) {
	k, ok := Key(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(k, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
