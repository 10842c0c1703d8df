package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"f1sync/internal/config"
	"f1sync/internal/gcal"
	"f1sync/internal/model"
)

type staticSchedule []model.Event

func (s staticSchedule) Events() []model.Event {
	return append([]model.Event(nil), s...)
}

func (s staticSchedule) Event(round int) (model.Event, bool) {
	for _, ev := range s {
		if ev.Round == round {
			return ev, true
		}
	}
	return model.Event{}, false
}

func races() staticSchedule {
	return staticSchedule{
		{
			Round: 1, GrandPrixName: "Australian Grand Prix", CircuitName: "Albert Park Circuit",
			City: "Melbourne", Country: "Australia", Date: "2026-03-08", Time: "04:00:00",
			TimezoneID: "Australia/Melbourne", WeekendStartDate: "2026-03-06", WeekendEndDate: "2026-03-08",
		},
		{
			Round: 2, GrandPrixName: "Chinese Grand Prix", CircuitName: "Shanghai International Circuit",
			City: "Shanghai", Country: "China", Date: "2026-03-15", Time: "07:00:00",
			TimezoneID: "Asia/Shanghai", WeekendStartDate: "2026-03-13", WeekendEndDate: "2026-03-15",
		},
	}
}

// fakeSyncer authorizes through the real CallbackAuthorizer against a stub
// token endpoint and then pretends every insert succeeded.
type fakeSyncer struct {
	authz   *gcal.CallbackAuthorizer
	conf    *oauth2.Config
	initErr error

	mu        sync.Mutex
	state     gcal.State
	initCalls int
	synced    [][]model.Event
}

func (f *fakeSyncer) State() gcal.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSyncer) Initialize(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		f.state = gcal.StateInitFailed
		return f.initErr
	}
	f.conf.ClientID = clientID
	f.state = gcal.StateReady
	return nil
}

func (f *fakeSyncer) SyncEvents(ctx context.Context, events []model.Event) (*gcal.BatchResponse, error) {
	if _, err := f.authz.RequestAccessToken(ctx, f.conf); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.synced = append(f.synced, events)
	f.mu.Unlock()

	resp := &gcal.BatchResponse{StatusCode: http.StatusOK}
	for _, ev := range events {
		resp.Items = append(resp.Items, gcal.ItemResult{Round: ev.Round, StatusCode: http.StatusOK, EventID: "ev"})
	}
	return resp, nil
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Google.ClientID = "client-1"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeSyncer) {
	t.Helper()
	tokens := tokenServer(t)
	authz := gcal.NewCallbackAuthorizer()
	syncer := &fakeSyncer{
		authz: authz,
		conf: &oauth2.Config{
			RedirectURL: cfg.Google.RedirectURL,
			Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokens.URL},
		},
	}
	return NewServer(cfg, races(), syncer, authz), syncer
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	if rec := get(t, h, "/health"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("/health = %d %q", rec.Code, rec.Body.String())
	}
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "f1sync_fallback_windows_total") {
		t.Fatalf("/metrics = %d", rec.Code)
	}
}

func TestScheduleAPI(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := get(t, s.Handler(), "/api/schedule")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Season int `json:"season"`
		Races  []struct {
			Round        int    `json:"round"`
			UID          string `json:"uid"`
			City         string `json:"city"`
			VenueTime    string `json:"venueTime"`
			DisplayTime  string `json:"displayTime"`
			WeekendRange string `json:"weekendRange"`
			DownloadURL  string `json:"downloadUrl"`
			QuickAddURL  string `json:"quickAddUrl"`
		} `json:"races"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Season != 2026 || len(resp.Races) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	r := resp.Races[0]
	if r.UID != "1-2026-03-08@f1sync.app" || r.City != "Melbourne" {
		t.Errorf("race = %+v", r)
	}
	if r.VenueTime != "3:00 PM" || r.DisplayTime != "Sun, Mar 8, 9:30 AM IST" || r.WeekendRange != "Mar 6 - 8" {
		t.Errorf("projections = %q / %q / %q", r.VenueTime, r.DisplayTime, r.WeekendRange)
	}
	if r.DownloadURL != "/ics/1" || !strings.Contains(r.QuickAddURL, "dates=20260308T040000Z%2F20260308T060000Z") {
		t.Errorf("links = %q / %q", r.DownloadURL, r.QuickAddURL)
	}
}

func TestDownloads(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rec := get(t, h, "/ics/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("/ics/1 = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/calendar; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "f1-round-1-Melbourne.ics") {
		t.Errorf("content disposition = %q", cd)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "DTSTART:20260308T040000Z\r\n") || strings.Count(body, "BEGIN:VEVENT") != 1 {
		t.Errorf("unexpected payload:\n%s", body)
	}

	rec = get(t, h, "/ics/season")
	if rec.Code != http.StatusOK {
		t.Fatalf("/ics/season = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "f1-2026-full-season.ics") {
		t.Errorf("content disposition = %q", cd)
	}
	if n := strings.Count(rec.Body.String(), "BEGIN:VEVENT"); n != 2 {
		t.Errorf("season VEVENTs = %d", n)
	}

	for target, want := range map[string]int{
		"/ics/abc":  http.StatusBadRequest,
		"/ics/0":    http.StatusBadRequest,
		"/ics/99":   http.StatusNotFound,
		"/link/abc": http.StatusBadRequest,
		"/link/42":  http.StatusNotFound,
	} {
		if rec := get(t, h, target); rec.Code != want {
			t.Errorf("%s = %d, want %d", target, rec.Code, want)
		}
	}
}

func TestQuickAddRedirect(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := get(t, s.Handler(), "/link/2")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "calendar.google.com" || loc.Query().Get("action") != "TEMPLATE" {
		t.Fatalf("location = %s", loc)
	}
	if got := loc.Query().Get("dates"); got != "20260315T070000Z/20260315T090000Z" {
		t.Fatalf("dates = %q", got)
	}
}

func TestImport(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := get(t, s.Handler(), "/import")
	var resp importResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Filename != "f1-2026-full-season.ics" || resp.Events != 2 || resp.DownloadURL != "/ics/season" ||
		resp.ImportURL != "https://calendar.google.com/calendar/u/0/r/settings/export" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	if rec := get(t, h, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("/health behind auth = %d", rec.Code)
	}
	if rec := get(t, h, "/api/schedule"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated = %d", rec.Code)
	}
}

// startSync begins a web sync and returns the state of the consent URL the
// browser was sent to.
func startSync(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := get(t, h, "/sync/google")
	if rec.Code != http.StatusFound {
		t.Fatalf("/sync/google = %d %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	if loc.Query().Get("prompt") != "consent" || loc.Query().Get("client_id") != "client-1" {
		t.Fatalf("consent url = %s", loc)
	}
	return loc.Query().Get("state")
}

func TestWebSync(t *testing.T) {
	s, syncer := newTestServer(t, testConfig())
	h := s.Handler()

	state := startSync(t, h)
	if syncer.initCalls != 1 {
		t.Fatalf("initialize calls = %d", syncer.initCalls)
	}

	rec := get(t, h, "/sync/google/callback?"+url.Values{"state": {state}, "code": {"good-code"}}.Encode())
	if rec.Code != http.StatusOK {
		t.Fatalf("callback = %d %s", rec.Code, rec.Body.String())
	}
	var resp syncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusOK || resp.Succeeded != 2 || resp.Failed != 0 || len(resp.Items) != 2 {
		t.Fatalf("resp = %+v", resp)
	}

	// A second sync reuses the ready session and inserts again.
	state = startSync(t, h)
	rec = get(t, h, "/sync/google/callback?"+url.Values{"state": {state}, "code": {"good-code"}}.Encode())
	if rec.Code != http.StatusOK {
		t.Fatalf("second callback = %d", rec.Code)
	}
	if syncer.initCalls != 1 || len(syncer.synced) != 2 {
		t.Fatalf("init calls = %d, syncs = %d", syncer.initCalls, len(syncer.synced))
	}
}

func TestWebSyncDenied(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	state := startSync(t, h)
	rec := get(t, h, "/sync/google/callback?"+url.Values{"state": {state}, "error": {"access_denied"}}.Encode())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("callback = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "access_denied") {
		t.Fatalf("message = %q", msg)
	}
}

func TestWebSyncRejectsUnknownState(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := get(t, s.Handler(), "/sync/google/callback?state=forged&code=good-code")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("callback = %d", rec.Code)
	}
}

func TestWebSyncBusy(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	state := startSync(t, h)
	if rec := get(t, h, "/sync/google"); rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d", rec.Code)
	}
	rec := get(t, h, "/sync/google/callback?"+url.Values{"state": {state}, "code": {"good-code"}}.Encode())
	if rec.Code != http.StatusOK {
		t.Fatalf("callback = %d", rec.Code)
	}
}

func TestWebSyncInitFailure(t *testing.T) {
	s, syncer := newTestServer(t, testConfig())
	syncer.initErr = &gcal.DependencyError{Names: []string{"identity service"}}

	rec := get(t, s.Handler(), "/sync/google")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "failed to load") {
		t.Fatalf("message = %q", msg)
	}
	if !errors.Is(syncer.initErr, gcal.ErrDependencyUnavailable) {
		t.Fatal("dependency error lost its identity")
	}
}

func TestWebSyncNeedsClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Google.ClientID = ""
	s, syncer := newTestServer(t, cfg)

	rec := get(t, s.Handler(), "/sync/google")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if syncer.initCalls != 0 {
		t.Fatal("initialized without a client id")
	}
}

func TestSyncRoutesWithoutSyncer(t *testing.T) {
	s := NewServer(testConfig(), races(), nil, nil)
	for _, target := range []string{"/sync/google", "/sync/google/callback?state=x"} {
		if rec := get(t, s.Handler(), target); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d", target, rec.Code)
		}
	}
}
