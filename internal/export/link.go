package export

import (
	"net/url"

	"f1sync/internal/model"
)

const (
	quickAddBase = "https://calendar.google.com/calendar/render"

	// ImportSettingsURL is the provider page that accepts a downloaded .ics
	// file for bulk import.
	ImportSettingsURL = "https://calendar.google.com/calendar/u/0/r/settings/export"
)

// QuickAddURL returns a provider link that pre-fills a single-event form
// with title, UTC window, details and location. It is pure and follows the
// same fallback policy as DeriveWindow.
func (x *Exporter) QuickAddURL(ev model.Event) string {
	w := x.Window(ev)

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", Summary(ev))
	q.Set("dates", Stamp(w.Start)+"/"+Stamp(w.End))
	q.Set("details", Details(ev))
	q.Set("location", ev.Location())
	return quickAddBase + "?" + q.Encode()
}

// BuildQuickAddURL is QuickAddURL with the default window length.
func BuildQuickAddURL(ev model.Event) string {
	return defaultExporter.QuickAddURL(ev)
}
