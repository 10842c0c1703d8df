package model

import (
	"strconv"
	"time"
)

// Event is a single schedule entry (one race weekend) as supplied by the
// schedule source. The core treats it as immutable.
//
// The authoritative instant of the main occurrence is always Date+Time
// interpreted in UTC. TimezoneID is a display hint only and must never be
// used to derive an exported instant.
type Event struct {
	// Round is the 1-based sequence number within a season.
	Round int `yaml:"round" json:"round"`

	GrandPrixName string `yaml:"grandPrixName" json:"grandPrixName"`
	CircuitName   string `yaml:"circuitName" json:"circuitName"`
	City          string `yaml:"city" json:"city"`
	Country       string `yaml:"country" json:"country"`

	// Date is the UTC calendar date of the main race (YYYY-MM-DD).
	Date string `yaml:"date" json:"date"`
	// Time is the UTC start time of the main race (HH:MM:SS).
	Time string `yaml:"time" json:"time"`

	// TimezoneID is the IANA zone of the venue, e.g. "Europe/London".
	TimezoneID string `yaml:"timezoneId" json:"timezoneId"`

	Description string   `yaml:"description" json:"description"`
	HomeRaceFor []string `yaml:"homeRaceFor" json:"homeRaceFor"`

	IsSprintWeekend  bool   `yaml:"isSprintWeekend" json:"isSprintWeekend"`
	WeekendStartDate string `yaml:"weekendStartDate" json:"weekendStartDate"`
	WeekendEndDate   string `yaml:"weekendEndDate" json:"weekendEndDate"`
	TrackImageURL    string `yaml:"trackImageUrl" json:"trackImageUrl"`
}

// UID returns the protocol-level unique identifier of the event, derived
// from its export identity (Round, Date).
func (e Event) UID() string {
	return strconv.Itoa(e.Round) + "-" + e.Date + "@f1sync.app"
}

// Location joins circuit, city and country the way both exports show it.
func (e Event) Location() string {
	return e.CircuitName + ", " + e.City + ", " + e.Country
}

// Window is the derived UTC occurrence window of an event.
type Window struct {
	Start time.Time
	End   time.Time

	// Fallback is true when Date/Time could not be parsed and the window
	// was anchored at the current instant instead.
	Fallback bool
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
