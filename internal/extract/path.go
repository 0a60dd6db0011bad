package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path ("output.0.url") against a decoded JSON value.
// Numeric segments index into arrays.
func Lookup(doc any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func firstValue(doc any, paths []string) (any, bool) {
	for _, p := range paths {
		if v, ok := Lookup(doc, p); ok {
			return v, true
		}
	}
	return nil, false
}

func firstString(doc any, paths []string) string {
	for _, p := range paths {
		v, ok := Lookup(doc, p)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(scalarString(v)); s != "" {
			return s
		}
	}
	return ""
}

// firstURL returns the first http(s) value found. An array value yields its
// first http(s) string element.
func firstURL(doc any, paths []string) string {
	for _, p := range paths {
		v, ok := Lookup(doc, p)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if u := TrimURL(val); isHTTP(u) {
				return u
			}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					if u := TrimURL(s); isHTTP(u) {
						return u
					}
				}
			}
		}
	}
	return ""
}

func firstNumber(doc any, paths []string) (float64, bool) {
	for _, p := range paths {
		v, ok := Lookup(doc, p)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
