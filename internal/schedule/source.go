// Package schedule loads the season schedule from a local file, a remote
// document or an ICS feed, and provides the display projections shown next
// to each race.
package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	appLog "f1sync/internal/log"
	"f1sync/internal/model"
)

// ErrEmptySchedule is returned when a source decodes to zero events.
var ErrEmptySchedule = errors.New("schedule has no events")

// Format is the encoding of a schedule document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatICS  Format = "ics"
)

// Document is the wrapped form of a schedule file. A bare list of events is
// accepted as well.
type Document struct {
	Season int           `yaml:"season" json:"season"`
	Races  []model.Event `yaml:"races" json:"races"`
}

// Loader resolves a source string to events. Sources starting with http://
// or https:// go through the Fetcher; everything else is a local path.
type Loader struct {
	Fetcher *Fetcher
}

// NewLoader returns a Loader with a Fetcher caching under cacheDir.
func NewLoader(cacheDir string) *Loader {
	return &Loader{Fetcher: NewFetcher(cacheDir, nil)}
}

// Load reads and decodes src. The result is sorted by round.
func (l *Loader) Load(ctx context.Context, src string) ([]model.Event, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("schedule source is empty")
	}

	var (
		body   []byte
		format Format
	)
	if isRemote(src) {
		f := l.Fetcher
		if f == nil {
			f = NewFetcher("", nil)
		}
		res, err := f.Fetch(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("fetch schedule: %w", err)
		}
		body = res.Body
		format = detectFormat(src, res.ContentType, body)
	} else {
		b, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read schedule: %w", err)
		}
		body = b
		format = detectFormat(src, "", body)
	}

	events, err := Decode(body, format)
	if err != nil {
		return nil, err
	}
	appLog.Info("schedule loaded", "events", len(events), "format", string(format))
	return events, nil
}

// Decode parses body in the given format and sorts the result by round.
func Decode(body []byte, format Format) ([]model.Event, error) {
	var (
		events []model.Event
		err    error
	)
	switch format {
	case FormatICS:
		events, err = ParseFeed(body)
	case FormatJSON:
		events, err = decodeJSON(body)
	default:
		events, err = decodeYAML(body)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s schedule: %w", format, err)
	}
	if len(events) == 0 {
		return nil, ErrEmptySchedule
	}
	SortByRound(events)
	return events, nil
}

// SortByRound orders events by round, keeping input order for ties.
func SortByRound(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Round < events[j].Round
	})
}

func decodeJSON(body []byte) ([]model.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []model.Event
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc.Races, nil
}

func decodeYAML(body []byte) ([]model.Event, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(body, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	if node.Kind == yaml.SequenceNode {
		var list []model.Event
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var doc Document
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Races, nil
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func detectFormat(src, contentType string, body []byte) Format {
	path := src
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ics", ".ical":
		return FormatICS
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/calendar"):
		return FormatICS
	case strings.Contains(ct, "json"):
		return FormatJSON
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(trimmed, []byte("BEGIN:VCALENDAR")):
		return FormatICS
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		return FormatJSON
	}
	return FormatYAML
}
