package rpc

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Object returns doc as a JSON-like object if it is one.
func Object(doc any) (map[string]any, bool) {
	switch m := doc.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// Without returns a new object holding every field of obj except key.
// obj itself is left untouched.
func Without(obj map[string]any, key string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}

// Int converts a decoded document value to an int. Numbers are truncated,
// numeric strings are parsed on their leading digits and anything else
// yields 0.
func Int(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return clampInt64(n)
	case uint:
		return clampUint64(uint64(n))
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return clampUint64(uint64(n))
	case uint64:
		return clampUint64(n)
	case float32:
		return clampFloat(float64(n))
	case float64:
		return clampFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampInt64(i)
		}
		if f, err := n.Float64(); err == nil {
			return clampFloat(f)
		}
		return 0
	case string:
		return leadingInt(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Bool reports the boolean value of v and whether v is a boolean at all.
func Bool(v any) (value bool, ok bool) {
	b, ok := v.(bool)
	return b, ok
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	i, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return clampInt64(i)
}

func clampInt64(i int64) int {
	switch {
	case i > math.MaxInt32:
		return math.MaxInt32
	case i < math.MinInt32:
		return math.MinInt32
	}
	return int(i)
}

func clampUint64(u uint64) int {
	if u > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(u)
}

func clampFloat(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}
