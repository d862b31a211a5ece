// Package numeric provides lenient decimal coercion for ragged wire values.
package numeric

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FromAny coerces a decoded JSON value into a decimal. The venue is not
// consistent about numeric encoding: the same field may arrive as a JSON
// number, a quoted string, or an integer flag.
func FromAny(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		return Parse(t)
	case nil:
		return decimal.Zero, false
	default:
		return decimal.Zero, false
	}
}

// Parse converts a decimal string into a decimal value.
func Parse(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IntFromAny coerces a decoded JSON value into an int64.
func IntFromAny(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		var n int64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// BoolFromAny coerces a decoded JSON value into a bool. Venue payloads use
// real booleans and 0/1 integer flags interchangeably.
func BoolFromAny(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no", "":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// StringFromAny coerces a decoded JSON value into a trimmed string.
func StringFromAny(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return decimal.NewFromFloat(t).String(), true
	default:
		return "", false
	}
}
