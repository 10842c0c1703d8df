package schedule

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "f1sync/internal/log"
	"f1sync/internal/model"
)

// feedWeekendDays is the assumed length of a race weekend when a feed only
// carries the race itself: practice starts two days before.
const feedWeekendDays = 2

// ParseFeed maps the VEVENTs of an ICS calendar to schedule records. Each
// VEVENT is one race: SUMMARY is the grand prix name, LOCATION is split into
// circuit, city and country, and DTSTART (in UTC) gives Date and Time.
// Rounds are assigned 1..N in start order. VEVENTs without a usable DTSTART
// are skipped.
func ParseFeed(body []byte) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	type dated struct {
		ev    model.Event
		start time.Time
	}
	var rows []dated

	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil || start.IsZero() {
			appLog.Warn("skipping feed event without DTSTART", "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		ev := model.Event{
			GrandPrixName: propValue(ve, ical.ComponentPropertySummary),
			Description:   propValue(ve, ical.ComponentPropertyDescription),
		}
		ev.CircuitName, ev.City, ev.Country = splitLocation(propValue(ve, ical.ComponentPropertyLocation))

		if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
			if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
				ev.TimezoneID = tz[0]
			}
		}

		utc := start.UTC()
		ev.Date = utc.Format(dateLayout)
		ev.Time = utc.Format("15:04:05")
		ev.WeekendEndDate = ev.Date
		ev.WeekendStartDate = utc.AddDate(0, 0, -feedWeekendDays).Format(dateLayout)

		rows = append(rows, dated{ev: ev, start: utc})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].start.Before(rows[j].start) })

	events := make([]model.Event, len(rows))
	for i, r := range rows {
		r.ev.Round = i + 1
		events[i] = r.ev
	}
	return events, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	// TEXT values arrive already unescaped by the parser.
	return p.Value
}

// splitLocation reads "Circuit, City, Country". With fewer parts the
// missing fields stay empty; extra leading parts belong to the circuit.
func splitLocation(loc string) (circuit, city, country string) {
	parts := strings.Split(loc, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch n := len(parts); {
	case n >= 3:
		return strings.Join(parts[:n-2], ", "), parts[n-2], parts[n-1]
	case n == 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}
