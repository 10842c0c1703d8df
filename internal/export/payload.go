package export

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"f1sync/internal/model"
)

const (
	// ProductID identifies this producer in every calendar document.
	ProductID = "-//F1 Calendar Sync//EN"

	// MIMEType is the media type of portable calendar files.
	MIMEType = "text/calendar; charset=utf-8"
)

// Exporter builds calendar artifacts. The zero value is not usable; use New.
type Exporter struct {
	// DurationMinutes is the occurrence window length.
	DurationMinutes int
	// Season names the full-season artifact.
	Season int
	// Now supplies DTSTAMP and the fallback instant.
	Now func() time.Time
}

// New returns an Exporter with the given window length and season.
// A negative duration is replaced by DefaultDurationMinutes.
func New(durationMinutes, season int) *Exporter {
	if durationMinutes < 0 {
		durationMinutes = DefaultDurationMinutes
	}
	return &Exporter{
		DurationMinutes: durationMinutes,
		Season:          season,
		Now:             time.Now,
	}
}

var defaultExporter = New(DefaultDurationMinutes, 2026)

// BuildPayload renders a single-event calendar document for ev using the
// default window length.
func BuildPayload(ev model.Event) string {
	return defaultExporter.Payload(ev)
}

// Window derives the occurrence window of ev.
func (x *Exporter) Window(ev model.Event) model.Window {
	return DeriveWindowAt(x.Now(), ev.Date, ev.Time, x.DurationMinutes)
}

// Payload renders a single-event VCALENDAR document with CRLF line endings.
// It cannot fail; an unparseable date/time produces a window anchored at
// the current instant.
func (x *Exporter) Payload(ev model.Event) string {
	cal := newCalendar()
	x.addEvent(cal, ev, x.Now())
	return serialize(cal)
}

// SeasonPayload renders all events into one calendar document, in the order
// given.
func (x *Exporter) SeasonPayload(events []model.Event) string {
	cal := newCalendar()
	cal.SetName("F1 " + strconv.Itoa(x.Season))
	now := x.Now()
	for _, ev := range events {
		x.addEvent(cal, ev, now)
	}
	return serialize(cal)
}

// serialize renders cal with CRLF line endings regardless of platform.
func serialize(cal *ical.Calendar) string {
	return cal.Serialize(ical.WithNewLineWindows)
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetVersion("2.0")
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	return cal
}

func (x *Exporter) addEvent(cal *ical.Calendar, ev model.Event, now time.Time) {
	w := DeriveWindowAt(now, ev.Date, ev.Time, x.DurationMinutes)

	vev := cal.AddEvent(ev.UID())
	vev.SetDtStampTime(now.UTC().Truncate(time.Second))
	vev.SetStartAt(w.Start)
	vev.SetEndAt(w.End)
	vev.SetSummary(Summary(ev))
	vev.SetDescription(Details(ev))
	vev.SetLocation(ev.Location())
}

// Summary is the one-line title used in the file payload and quick-add link.
func Summary(ev model.Event) string {
	return ev.GrandPrixName + " - " + ev.City
}

// Details is the description used in the file payload and quick-add link.
func Details(ev model.Event) string {
	return ev.CircuitName + ". " + ev.Description
}
