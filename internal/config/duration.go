package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

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

// ParseSecondsOrDuration accepts either a bare integer number of seconds
// ("3600") or a Go duration string ("1h"). Used by the control surfaces.
func ParseSecondsOrDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("interval must be >= 0")
		}
		if n > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("interval %d seconds is too large", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	return ParseDurationField("interval", s)
}
