package gcal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"f1sync/internal/export"
	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
)

const (
	// Attribution is appended to every synced event description.
	Attribution = "(Synced via F1 Sync 26)"

	noHomeRace = "N/A"

	contentIDPrefix = "round-"
)

// ProviderEvent converts ev into the provider's insert body. The window uses
// the same derivation (and fallback) as the file export.
func ProviderEvent(ev model.Event, w model.Window, season int) *calendar.Event {
	home := strings.Join(ev.HomeRaceFor, ", ")
	if home == "" {
		home = noHomeRace
	}

	return &calendar.Event{
		Summary:  "F1 " + ev.GrandPrixName + " " + strconv.Itoa(season),
		Location: ev.Location(),
		Description: ev.Description +
			"\n\nRound " + strconv.Itoa(ev.Round) +
			"\nHome Race: " + home +
			"\n" + Attribution,
		Start: &calendar.EventDateTime{
			DateTime: w.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: w.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

// BatchRequest describes one batch call.
type BatchRequest struct {
	Provider   Provider
	CalendarID string
	Season     int
	// DurationMinutes is the occurrence window length. Zero is a legal
	// zero-length window; a negative value picks the export default.
	DurationMinutes int
	Now             func() time.Time
}

// ItemResult is the provider's answer to one insert inside a batch.
type ItemResult struct {
	Round      int    `json:"round"`
	StatusCode int    `json:"status"`
	EventID    string `json:"eventId,omitempty"`
	HTMLLink   string `json:"htmlLink,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResponse is the aggregate outcome of a batch call. Items may mix
// successes and failures; callers decide what to do with them.
type BatchResponse struct {
	StatusCode int
	Items      []ItemResult
}

// Succeeded counts items with a 2xx status.
func (r *BatchResponse) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.StatusCode >= 200 && it.StatusCode < 300 {
			n++
		}
	}
	return n
}

// Failed counts items without a 2xx status.
func (r *BatchResponse) Failed() int {
	return len(r.Items) - r.Succeeded()
}

// BatchError is a transport-level failure of the whole batch.
type BatchError struct {
	StatusCode int
	Body       string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("calendar batch failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// BatchCreateEvents submits one insert per event as a single multipart
// request (one round trip). client must carry the authorization. No retries
// are attempted.
func BatchCreateEvents(ctx context.Context, client *http.Client, req BatchRequest, events []model.Event) (*BatchResponse, error) {
	if len(events) == 0 {
		return &BatchResponse{StatusCode: http.StatusOK}, nil
	}
	if req.CalendarID == "" {
		req.CalendarID = "primary"
	}
	if req.Now == nil {
		req.Now = time.Now
	}

	body, contentType, err := encodeBatch(req, events)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Provider.BatchURL(), body)
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	appLog.Info("calendar batch submit", "events", len(events), "calendar", req.CalendarID)
	metrics.SyncedEvents.Add(float64(len(events)))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &BatchError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	out := &BatchResponse{StatusCode: resp.StatusCode}
	items, perr := decodeBatch(resp)
	if perr != nil {
		// The batch itself went through; only diagnostics are lost.
		appLog.Warn("can't parse calendar batch response", "err", perr)
		return out, nil
	}
	out.Items = items

	appLog.Info("calendar batch complete",
		"status", resp.StatusCode,
		"succeeded", out.Succeeded(),
		"failed", out.Failed(),
	)
	return out, nil
}

func encodeBatch(req BatchRequest, events []model.Event) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary("batch_" + strings.ReplaceAll(uuid.NewString(), "-", "")); err != nil {
		return nil, "", err
	}
	path := req.Provider.InsertPath(req.CalendarID)
	now := req.Now()

	for _, ev := range events {
		w := export.DeriveWindowAt(now, ev.Date, ev.Time, req.DurationMinutes)
		payload, err := json.Marshal(ProviderEvent(ev, w, req.Season))
		if err != nil {
			return nil, "", fmt.Errorf("encode event round %d: %w", ev.Round, err)
		}

		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-ID", "<"+contentIDPrefix+strconv.Itoa(ev.Round)+">")
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}

		fmt.Fprintf(part, "POST %s HTTP/1.1\r\n", path)
		fmt.Fprintf(part, "Content-Type: application/json; charset=UTF-8\r\n")
		fmt.Fprintf(part, "Content-Length: %d\r\n\r\n", len(payload))
		if _, err := part.Write(payload); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, "multipart/mixed; boundary=" + mw.Boundary(), nil
}

func decodeBatch(resp *http.Response) ([]ItemResult, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected batch content type %q", mediaType)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	var items []ItemResult
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}

		item := ItemResult{Round: roundFromContentID(part.Header.Get("Content-ID"))}
		inner, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			return items, fmt.Errorf("read batch part: %w", err)
		}
		item.StatusCode = inner.StatusCode

		var body struct {
			ID       string `json:"id"`
			HTMLLink string `json:"htmlLink"`
			Error    struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if b, rerr := io.ReadAll(inner.Body); rerr == nil && len(b) > 0 {
			_ = json.Unmarshal(b, &body)
		}
		inner.Body.Close()

		item.EventID = body.ID
		item.HTMLLink = body.HTMLLink
		item.Error = body.Error.Message
		items = append(items, item)
	}
}

// roundFromContentID extracts N from "<response-round-N>" or "<round-N>".
func roundFromContentID(id string) int {
	id = strings.Trim(id, "<>")
	i := strings.LastIndex(id, contentIDPrefix)
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+len(contentIDPrefix):])
	if err != nil {
		return 0
	}
	return n
}
