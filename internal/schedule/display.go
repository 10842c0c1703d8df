package schedule

import (
	"errors"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	"f1sync/internal/export"
	"f1sync/internal/model"
)

const (
	dateLayout = "2006-01-02"

	// TBA is shown when an event instant cannot be parsed.
	TBA = "TBA"

	// DefaultDisplayZone is the viewer zone used when none is configured.
	DefaultDisplayZone = "Asia/Kolkata"
)

// loadZone resolves an IANA name, falling back to UTC for empty or unknown
// names.
func loadZone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalTime renders the race start as a 12-hour clock time in zone, e.g.
// "3:00 PM". Pass ev.TimezoneID for venue time. Unknown zones render in UTC;
// an unparseable instant renders as TBA.
func LocalTime(ev model.Event, zone string) string {
	t, ok := export.ParseInstant(ev.Date, ev.Time)
	if !ok {
		return TBA
	}
	return t.In(loadZone(zone)).Format("3:04 PM")
}

// DisplayTime renders the race start with weekday, date and zone
// abbreviation, e.g. "Sun, Mar 8, 9:30 AM IST".
func DisplayTime(ev model.Event, zone string) string {
	t, ok := export.ParseInstant(ev.Date, ev.Time)
	if !ok {
		return TBA
	}
	return t.In(loadZone(zone)).Format("Mon, Jan 2, 3:04 PM MST")
}

// WeekendRange renders two YYYY-MM-DD dates as "Mar 6 - 8", or
// "Feb 27 - Mar 1" across a month boundary. Unparseable input is returned
// joined as is.
func WeekendRange(start, end string) string {
	s, err1 := time.Parse(dateLayout, start)
	e, err2 := time.Parse(dateLayout, end)
	if err1 != nil || err2 != nil {
		return start + " - " + end
	}
	if s.Month() == e.Month() {
		return s.Format("Jan") + " " + strconv.Itoa(s.Day()) + " - " + strconv.Itoa(e.Day())
	}
	return s.Format("Jan 2") + " - " + e.Format("Jan 2")
}

// maxWeekendDays caps enumeration for malformed ranges.
const maxWeekendDays = 7

// WeekendDays lists each calendar day (UTC midnight) of the race weekend,
// inclusive.
func WeekendDays(ev model.Event) ([]time.Time, error) {
	start, err := time.Parse(dateLayout, ev.WeekendStartDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(dateLayout, ev.WeekendEndDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, errors.New("weekend ends before it starts")
	}
	if end.Sub(start) >= maxWeekendDays*24*time.Hour {
		return nil, errors.New("weekend spans more than a week")
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start,
		Until:   end,
	})
	if err != nil {
		return nil, err
	}
	return r.All(), nil
}
