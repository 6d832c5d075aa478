package model

import (
	"strconv"
	"strings"
)

// ParseAmount parses amounts like "$1,250,000", "2.5M", "750k" or "80%".
func ParseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	mult := 1.0
	for _, suf := range []struct {
		text string
		mult float64
	}{{"million", 1e6}, {"mm", 1e6}, {"m", 1e6}, {"k", 1e3}} {
		if strings.HasSuffix(s, suf.text) {
			s = strings.TrimSuffix(s, suf.text)
			mult = suf.mult
			break
		}
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}

// Number coerces a decoded JSON value to float64. Strings go through
// ParseAmount.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return ParseAmount(n)
	default:
		return 0, false
	}
}

// Bool coerces a decoded JSON value to a boolean. Strings like "yes" and
// "Y" count as true.
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "y", "true", "present", "provided":
			return true, true
		case "no", "n", "false", "none", "not provided":
			return false, true
		}
	}
	return false, false
}
