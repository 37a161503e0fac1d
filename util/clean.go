package util

import "strings"

// CleanStrings trims leading and trailing whitespace from every string in a
// decoded JSON value, descending into maps and slices. Other values are left
// as they are. Maps and slices are modified in place; the (possibly new)
// value is returned for top-level strings.
func CleanStrings(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]interface{}:
		for k, e := range t {
			t[k] = CleanStrings(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = CleanStrings(e)
		}
		return t
	default:
		return v
	}
}
