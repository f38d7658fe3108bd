package verify

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/listproof/internal/resource"
)

var lower = cases.Lower(language.Und)

// decimal is the only string form read as a number: codes such as "1e9"
// or "0x10" stay strings.
var decimal = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// number converts numeric values to an exact rational. Strings convert only
// when allowString is set.
func number(v any, allowString bool) (*big.Rat, bool) {
	r := new(big.Rat)
	switch x := v.(type) {
	case json.Number:
		return r.SetString(string(x))
	case int:
		return r.SetInt64(int64(x)), true
	case int32:
		return r.SetInt64(int64(x)), true
	case int64:
		return r.SetInt64(x), true
	case uint64:
		return r.SetFrac(new(big.Int).SetUint64(x), big.NewInt(1)), true
	case float32:
		return r.SetString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case float64:
		return r.SetString(strconv.FormatFloat(x, 'f', -1, 64))
	case string:
		if !allowString {
			return nil, false
		}
		s := strings.TrimSpace(x)
		if !decimal.MatchString(s) {
			return nil, false
		}
		return r.SetString(s)
	}
	return nil, false
}

func isNumberType(v any) bool {
	_, ok := number(v, false)
	return ok
}

func boolean(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(x) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	}
	if n, ok := number(v, false); ok {
		switch {
		case n.Sign() == 0:
			return false, true
		case n.Cmp(big.NewRat(1, 1)) == 0:
			return true, true
		}
	}
	return false, false
}

// equalValues compares a surface value with a store value under the
// default equality rule: numbers by value, booleans against 0/1, store
// timestamps against parsed surface strings, everything else as text.
func equalValues(surface, stored any) bool {
	if surface == nil || stored == nil {
		return surface == nil && stored == nil
	}

	if t, ok := stored.(time.Time); ok {
		s, ok := surface.(string)
		if !ok {
			return false
		}
		st, err := parseTime(s, "")
		return err == nil && st.Equal(t)
	}

	_, sb := surface.(bool)
	_, db := stored.(bool)
	if sb || db {
		a, aok := boolean(surface)
		b, bok := boolean(stored)
		return aok && bok && a == b
	}

	if isNumberType(surface) || isNumberType(stored) {
		a, aok := number(surface, true)
		b, bok := number(stored, true)
		return aok && bok && a.Cmp(b) == 0
	}

	if list, ok := surface.([]any); ok {
		other, ok := stored.([]any)
		return ok && equalLists(list, other)
	}
	return text(surface) == text(stored)
}

func equalLists(surface, stored []any) bool {
	if len(surface) != len(stored) {
		return false
	}
	for i := range surface {
		if !equalValues(surface[i], stored[i]) {
			return false
		}
	}
	return true
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// formatTimestamp renders a store timestamp the way a timestamp rule says
// the surface shows it.
func formatTimestamp(stored any, rule resource.FieldRule) (string, bool) {
	var t time.Time
	switch x := stored.(type) {
	case time.Time:
		t = x
	case string:
		parsed, err := dateparse.ParseIn(x, time.UTC)
		if err != nil {
			return "", false
		}
		t = parsed
	default:
		return "", false
	}
	return rule.FormatTime(t), true
}

// parseTime parses a surface timestamp, trying layout first and falling
// back to format detection.
func parseTime(s, layout string) (time.Time, error) {
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return dateparse.ParseIn(s, time.UTC)
}

// orderKey is one normalized ordering sample.
type orderKey struct {
	num *big.Rat
	str string
}

func (k orderKey) String() string {
	if k.num != nil {
		return k.num.RatString()
	}
	return k.str
}

// normalizeOrder compares numerically when every value is numeric-looking
// and as lower-cased text otherwise. nil sorts as the empty string.
func normalizeOrder(vals []any) []orderKey {
	keys := make([]orderKey, len(vals))
	nums := make([]*big.Rat, len(vals))
	numeric := len(vals) > 0
	for i, v := range vals {
		n, ok := number(v, true)
		if !ok {
			numeric = false
			break
		}
		nums[i] = n
	}
	for i, v := range vals {
		if numeric {
			keys[i] = orderKey{num: nums[i]}
			continue
		}
		keys[i] = orderKey{str: lower.String(text(v))}
	}
	return keys
}

func compareKeys(a, b orderKey) int {
	if a.num != nil && b.num != nil {
		return a.num.Cmp(b.num)
	}
	return strings.Compare(a.str, b.str)
}

// monotonic reports whether keys are non-decreasing, or non-increasing
// when desc is set.
func monotonic(keys []orderKey, desc bool) bool {
	for i := 1; i < len(keys); i++ {
		c := compareKeys(keys[i-1], keys[i])
		if (!desc && c > 0) || (desc && c < 0) {
			return false
		}
	}
	return true
}

// paramString renders a store value as a query parameter.
func paramString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	default:
		return text(v)
	}
}
