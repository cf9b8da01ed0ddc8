package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// Params is the merged parameter set one rule receives for one column.
// Getters never fail: a missing or unparseable value yields the default.
type Params map[string]any

// Has reports whether key is set to a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns a string parameter.
func (p Params) String(key, def string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return def
	case fmt.Stringer:
		return v.String()
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	}
	return def
}

// Bool returns a boolean parameter. "yes"/"no" and 0/1 are accepted.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return def
}

// Int returns an integer parameter. Fractional numbers are rejected.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Float returns a numeric parameter.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Strings returns a list parameter. A scalar is treated as a one-item list.
func (p Params) Strings(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		return []string{v}, true
	}
	return nil, false
}

// Enabled reports whether the rule is enabled (default true).
func (p Params) Enabled() bool {
	return p.Bool("enabled", true)
}

// Severity returns the configured severity, or def when unset. An invalid
// value returns def and an error for the caller to report.
func (p Params) Severity(def issue.Severity) (issue.Severity, error) {
	if !p.Has("severity") {
		return def, nil
	}
	s, err := issue.ParseSeverity(p.String("severity", ""))
	if err != nil {
		return def, err
	}
	return s, nil
}
