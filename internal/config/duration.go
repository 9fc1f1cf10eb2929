package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields travel as Go duration strings ("30s", "5m") so the file
// stays readable; parsing happens once, at validation and mapping time.

// ParseDurationField parses one such field. Empty means unset (zero);
// negative values are rejected with the field path in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
