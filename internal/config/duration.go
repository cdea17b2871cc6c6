package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration readable from configuration with two extra
// units on top of the standard format: d for days (24h) and w for weeks
// (7d). "30d", "2w", "1w2d12h" and plain "720h" all parse. Text and JSON
// unmarshaling are implemented, which covers Viper, YAML and JSON
// configuration sources.
type Duration time.Duration

// extendedUnits matches the day and week tokens this type adds on top of
// the standard library format.
var extendedUnits = regexp.MustCompile(`(?i)(\d+)\s*([dw])`)

// ParseDuration parses a duration string in the extended format. Day and
// week tokens are summed first; whatever remains goes through the standard
// parser.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var extended time.Duration
	rest := extendedUnits.ReplaceAllStringFunc(s, func(match string) string {
		m := extendedUnits.FindStringSubmatch(match)
		n, _ := strconv.ParseInt(m[1], 10, 64)
		switch strings.ToLower(m[2]) {
		case "w":
			extended += time.Duration(n) * 7 * 24 * time.Hour
		case "d":
			extended += time.Duration(n) * 24 * time.Hour
		}
		return ""
	})

	// The standard parser rejects whitespace between units.
	rest = strings.Join(strings.Fields(rest), "")

	var tail time.Duration
	if rest != "" {
		var err error
		tail, err = time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}

	total := extended + tail
	if negative {
		total = -total
	}
	return Duration(total), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts either a quoted duration string or a plain number
// of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}

	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON emits the human-readable form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText emits the human-readable form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration unwraps to the standard type.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns a human-readable string representation using the week and
// day tokens where they fit, falling back to the standard format.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	negative := dur < 0
	if negative {
		dur = -dur
	}

	weeks := dur / (7 * 24 * time.Hour)
	dur -= weeks * 7 * 24 * time.Hour
	days := dur / (24 * time.Hour)
	dur -= days * 24 * time.Hour

	var result string
	if weeks > 0 {
		result += fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		result += fmt.Sprintf("%dd", days)
	}
	if dur > 0 {
		result += dur.String()
	}
	if result == "" {
		return time.Duration(d).String()
	}

	if negative {
		return "-" + result
	}
	return result
}
