// Package export converts event records into portable calendar payloads,
// download artifacts and provider quick-add links.
package export

import (
	"strings"
	"time"

	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
)

const (
	// DefaultDurationMinutes is the length of an occurrence window when the
	// caller does not say otherwise.
	DefaultDurationMinutes = 120

	// fallbackWindow is used whenever the event instant cannot be parsed,
	// regardless of the requested duration.
	fallbackWindow = 2 * time.Hour

	// CompactLayout is the UTC timestamp form used in calendar payloads and
	// quick-add links: YYYYMMDDTHHMMSSZ.
	CompactLayout = "20060102T150405Z"
)

// Layouts accepted for Date+"T"+Time. Seconds are expected, but HH:MM and
// fractional seconds parse as well.
var instantLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseInstant combines a UTC date (YYYY-MM-DD) and time-of-day (HH:MM:SS)
// into an instant. A trailing "Z" on the time is tolerated.
func ParseInstant(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSuffix(strings.TrimSpace(clock), "Z")
	if date == "" || clock == "" {
		return time.Time{}, false
	}
	v := date + "T" + clock
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DeriveWindow returns the UTC occurrence window for date/time lasting
// durationMinutes. It never fails: malformed input yields a two hour window
// starting at the current instant.
func DeriveWindow(date, clock string, durationMinutes int) model.Window {
	return DeriveWindowAt(time.Now(), date, clock, durationMinutes)
}

// DeriveWindowAt is DeriveWindow with an explicit "now" for the fallback.
func DeriveWindowAt(now time.Time, date, clock string, durationMinutes int) model.Window {
	if durationMinutes < 0 {
		appLog.Debug("negative duration; using default", "duration_minutes", durationMinutes)
		durationMinutes = DefaultDurationMinutes
	}

	start, ok := ParseInstant(date, clock)
	if !ok {
		metrics.FallbackWindows.Inc()
		appLog.Debug("unparseable event instant; anchoring window at now", "date", date, "time", clock)
		start = now.UTC().Truncate(time.Second)
		return model.Window{
			Start:    start,
			End:      start.Add(fallbackWindow),
			Fallback: true,
		}
	}

	return model.Window{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}
}

// Stamp renders t in CompactLayout.
func Stamp(t time.Time) string {
	return t.UTC().Format(CompactLayout)
}

// ParseStamp decodes a CompactLayout timestamp.
func ParseStamp(s string) (time.Time, error) {
	return time.Parse(CompactLayout, s)
}
