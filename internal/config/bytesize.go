package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a byte count readable from configuration as "5MB", "1.5 GB",
// "500KB" or a bare number of bytes. Units are binary, so 1KB is 1024.
// Text and JSON unmarshaling are implemented, which covers Viper, YAML and
// JSON configuration sources.
type ByteSize int64

// sizePattern matches a number (int or float) followed by an optional unit.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// sizeUnits maps unit spellings to their binary (1024-based) multiplier.
var sizeUnits = map[string]int64{
	"": 1, "b": 1,
	"k": 1 << 10, "kb": 1 << 10, "kib": 1 << 10,
	"m": 1 << 20, "mb": 1 << 20, "mib": 1 << 20,
	"g": 1 << 30, "gb": 1 << 30, "gib": 1 << 30,
	"t": 1 << 40, "tb": 1 << 40, "tib": 1 << 40,
	"p": 1 << 50, "pb": 1 << 50, "pib": 1 << 50,
}

// ParseByteSize parses a human-readable byte size string. Units are
// case-insensitive and binary; a bare number means bytes.
func ParseByteSize(s string) (ByteSize, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	mul, ok := sizeUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", m[2])
	}
	return ByteSize(value * float64(mul)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either a quoted size string or a plain number of
// bytes.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON emits the human-readable form.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText emits the human-readable form.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the count as a plain int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// Int64 is an alias for Bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String returns a human-readable string representation using the largest
// unit that keeps the value at or above one.
func (b ByteSize) String() string {
	n := int64(b)
	if n == 0 {
		return "0B"
	}
	neg := n < 0
	if neg {
		n = -n
	}

	out := fmt.Sprintf("%dB", n)
	for _, u := range []struct {
		mul  int64
		name string
	}{{1 << 50, "PB"}, {1 << 40, "TB"}, {1 << 30, "GB"}, {1 << 20, "MB"}, {1 << 10, "KB"}} {
		if n >= u.mul {
			s := strconv.FormatFloat(float64(n)/float64(u.mul), 'f', 1, 64)
			out = strings.TrimSuffix(s, ".0") + u.name
			break
		}
	}

	if neg {
		return "-" + out
	}
	return out
}
