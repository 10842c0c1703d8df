package export

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
)

// Filename is the deterministic artifact name for a single event:
// f1-round-<round>-<city>.ics.
func Filename(ev model.Event) string {
	return "f1-round-" + strconv.Itoa(ev.Round) + "-" + ev.City + ".ics"
}

// SeasonFilename is the artifact name of the full-season document.
func (x *Exporter) SeasonFilename() string {
	return "f1-" + strconv.Itoa(x.Season) + "-full-season.ics"
}

// ServeDownload writes ev as a calendar attachment. Every call produces an
// independent artifact; nothing is deduplicated.
func (x *Exporter) ServeDownload(w http.ResponseWriter, ev model.Event) {
	metrics.Exports.WithLabelValues("event").Inc()
	writeAttachment(w, Filename(ev), x.Payload(ev))
}

// ServeSeason writes all events as one calendar attachment.
func (x *Exporter) ServeSeason(w http.ResponseWriter, events []model.Event) {
	metrics.Exports.WithLabelValues("season").Inc()
	writeAttachment(w, x.SeasonFilename(), x.SeasonPayload(events))
}

func writeAttachment(w http.ResponseWriter, name, body string) {
	w.Header().Set("Content-Type", MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		appLog.Warn("can't write calendar attachment", "file", name, "err", err)
	}
}

// WriteFile saves ev under dir using Filename and returns the full path.
// An existing file with the same name is overwritten.
func (x *Exporter) WriteFile(dir string, ev model.Event) (string, error) {
	metrics.Exports.WithLabelValues("event").Inc()
	return writeArtifact(dir, Filename(ev), x.Payload(ev))
}

// WriteSeasonFile saves the full-season document under dir.
func (x *Exporter) WriteSeasonFile(dir string, events []model.Event) (string, error) {
	metrics.Exports.WithLabelValues("season").Inc()
	return writeArtifact(dir, x.SeasonFilename(), x.SeasonPayload(events))
}

func writeArtifact(dir, name, body string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	appLog.Info("calendar file written", "path", path, "bytes", len(body))
	return path, nil
}
