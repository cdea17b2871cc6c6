// Package format renders byte counts, size reductions, schedules, and
// timestamps for log lines, API payloads, and CLI output.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes renders a byte count using binary units: Bytes(1536) == "1.5 KB".
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), sizes[exp])
}

// Reduction describes the size change from an original file to its
// compressed output: "2.0 GB -> 850.0 MB (58.5% smaller)". Outputs that
// grew are reported as larger rather than with a negative percentage.
func Reduction(original, compressed int64) string {
	if original <= 0 {
		return Bytes(compressed)
	}
	pct := float64(original-compressed) / float64(original) * 100
	if pct < 0 {
		return fmt.Sprintf("%s -> %s (%.1f%% larger)", Bytes(original), Bytes(compressed), -pct)
	}
	return fmt.Sprintf("%s -> %s (%.1f%% smaller)", Bytes(original), Bytes(compressed), pct)
}

var printer = message.NewPrinter(language.English)

// Number renders n with thousand separators: Number(1234567) == "1,234,567".
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage renders value with the given number of decimals and a percent
// sign: Percentage(45.678, 1) == "45.7%".
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// CronDescription renders a 6-field cron expression (seconds first) as a
// short human phrase: CronDescription("0 0 2 * * *") == "Daily at 2AM".
// Expressions it cannot phrase come back unchanged.
func CronDescription(expr string) string {
	f := strings.Fields(strings.TrimSpace(expr))
	if len(f) != 6 {
		return expr
	}
	sec, min, hour, dom, _, dow := f[0], f[1], f[2], f[3], f[4], f[5]

	if n, ok := stepOf(sec); ok {
		return fmt.Sprintf("Every %d seconds", n)
	}
	if n, ok := stepOf(min); ok {
		return fmt.Sprintf("Every %d minutes", n)
	}
	if n, ok := stepOf(hour); ok {
		if n == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", n)
	}
	if min == "*" {
		return "Every minute"
	}

	m, err := strconv.Atoi(min)
	if err != nil {
		return expr
	}
	if hour == "*" {
		if m == 0 {
			return "Every hour"
		}
		return fmt.Sprintf("Every hour at :%02d", m)
	}
	h, err := strconv.Atoi(hour)
	if err != nil {
		return expr
	}
	at := clock(h, m)

	if dow != "*" {
		if d, err := strconv.Atoi(dow); err == nil && d >= 0 && d < 7 {
			return fmt.Sprintf("Every %s at %s", dayNames[d], at)
		}
		return expr
	}
	if dom != "*" {
		if d, err := strconv.Atoi(dom); err == nil && d >= 1 && d <= 31 {
			return fmt.Sprintf("Monthly on the %s at %s", ordinal(d), at)
		}
		return expr
	}
	return fmt.Sprintf("Daily at %s", at)
}

// stepOf reports the interval of a "*/n" or "start/n" cron field.
func stepOf(field string) (int, bool) {
	_, step, ok := strings.Cut(field, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(step)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// clock renders an hour and minute the way people say them: "midnight",
// "3AM", "2:30PM".
func clock(h, m int) string {
	if h == 0 && m == 0 {
		return "midnight"
	}
	if h == 12 && m == 0 {
		return "noon"
	}
	suffix := "AM"
	display := h
	switch {
	case h == 0:
		display = 12
	case h == 12:
		suffix = "PM"
	case h > 12:
		display = h - 12
		suffix = "PM"
	}
	if m == 0 {
		return fmt.Sprintf("%d%s", display, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", display, m, suffix)
}

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// RelativeTime renders t relative to now: "just now", "5 minutes ago",
// "in 2 hours".
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	past := d >= 0
	if !past {
		d = -d
	}

	var phrase string
	switch {
	case d < time.Minute:
		if past {
			return "just now"
		}
		return "in a moment"
	case d < time.Hour:
		phrase = plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		phrase = plural(int(d.Hours()), "hour")
	default:
		phrase = plural(int(d.Hours()/24), "day")
	}

	if past {
		return phrase + " ago"
	}
	return "in " + phrase
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
