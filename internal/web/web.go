package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"f1sync/internal/config"
	"f1sync/internal/export"
	"f1sync/internal/gcal"
	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
	"f1sync/internal/schedule"
)

const (
	initTimeout = 15 * time.Second
	// syncTimeout bounds one web sync, including the time the user spends
	// on the consent page.
	syncTimeout = 5 * time.Minute
)

// Schedule is the read side of the schedule store.
type Schedule interface {
	Events() []model.Event
	Event(round int) (model.Event, bool)
}

// Syncer is the remote calendar session.
type Syncer interface {
	State() gcal.State
	Initialize(ctx context.Context, clientID string) error
	SyncEvents(ctx context.Context, events []model.Event) (*gcal.BatchResponse, error)
}

// Server exposes the schedule, calendar downloads, quick-add links and the
// browser side of calendar sync.
type Server struct {
	cfg      *config.Config
	schedule Schedule
	exporter *export.Exporter
	syncer   Syncer
	authz    *gcal.CallbackAuthorizer
	mux      *http.ServeMux

	jobMu sync.Mutex
	job   *syncJob
}

// syncJob is one web sync running in the background while the browser
// visits the consent page.
type syncJob struct {
	done   chan struct{}
	cancel context.CancelFunc
	resp   *gcal.BatchResponse
	err    error
}

// NewServer wires the handlers. syncer and authz may be nil, in which case
// the sync routes answer 503.
func NewServer(cfg *config.Config, sched Schedule, syncer Syncer, authz *gcal.CallbackAuthorizer) *Server {
	s := &Server{
		cfg:      cfg,
		schedule: sched,
		exporter: export.New(cfg.Export.DurationMinutes, cfg.Season),
		syncer:   syncer,
		authz:    authz,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hs := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			appLog.Error("http shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="F1 Sync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /ics/season", s.handleSeasonDownload)
	s.mux.HandleFunc("GET /ics/{round}", s.handleDownload)
	s.mux.HandleFunc("GET /link/{round}", s.handleQuickAdd)
	s.mux.HandleFunc("GET /import", s.handleImport)

	s.mux.HandleFunc("GET /sync/google", s.handleSyncStart)
	s.mux.HandleFunc("GET /sync/google/callback", s.handleSyncCallback)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type raceDTO struct {
	model.Event

	UID          string `json:"uid"`
	VenueTime    string `json:"venueTime"`
	DisplayTime  string `json:"displayTime"`
	WeekendRange string `json:"weekendRange"`
	DownloadURL  string `json:"downloadUrl"`
	QuickAddURL  string `json:"quickAddUrl"`
}

type scheduleResponse struct {
	Season          int       `json:"season"`
	DisplayTimezone string    `json:"displayTimezone"`
	Races           []raceDTO `json:"races"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	events := s.schedule.Events()
	races := make([]raceDTO, 0, len(events))
	for _, ev := range events {
		races = append(races, raceDTO{
			Event:        ev,
			UID:          ev.UID(),
			VenueTime:    schedule.LocalTime(ev, ev.TimezoneID),
			DisplayTime:  schedule.DisplayTime(ev, s.cfg.DisplayTimezone),
			WeekendRange: schedule.WeekendRange(ev.WeekendStartDate, ev.WeekendEndDate),
			DownloadURL:  "/ics/" + strconv.Itoa(ev.Round),
			QuickAddURL:  s.exporter.QuickAddURL(ev),
		})
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Season:          s.cfg.Season,
		DisplayTimezone: s.cfg.DisplayTimezone,
		Races:           races,
	})
}

// lookupRound resolves the {round} path value or writes an error.
func (s *Server) lookupRound(w http.ResponseWriter, r *http.Request) (model.Event, bool) {
	round, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || round <= 0 {
		writeError(w, http.StatusBadRequest, "round must be a positive integer")
		return model.Event{}, false
	}
	ev, ok := s.schedule.Event(round)
	if !ok {
		writeError(w, http.StatusNotFound, "no such round")
		return model.Event{}, false
	}
	return ev, true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookupRound(w, r)
	if !ok {
		return
	}
	s.exporter.ServeDownload(w, ev)
}

func (s *Server) handleSeasonDownload(w http.ResponseWriter, _ *http.Request) {
	events := s.schedule.Events()
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "schedule is empty")
		return
	}
	s.exporter.ServeSeason(w, events)
}

func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookupRound(w, r)
	if !ok {
		return
	}
	metrics.Exports.WithLabelValues("link").Inc()
	http.Redirect(w, r, s.exporter.QuickAddURL(ev), http.StatusFound)
}

type importResponse struct {
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
	ImportURL   string `json:"importUrl"`
	Events      int    `json:"events"`
}

// handleImport describes the two-step bulk import: download the season file,
// then upload it on the provider's import page.
func (s *Server) handleImport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, importResponse{
		DownloadURL: "/ics/season",
		Filename:    s.exporter.SeasonFilename(),
		ImportURL:   export.ImportSettingsURL,
		Events:      len(s.schedule.Events()),
	})
}

type syncResponse struct {
	Status    int               `json:"status"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []gcal.ItemResult `json:"items"`
}

// handleSyncStart initializes the session if needed, starts a sync in the
// background and redirects the browser to the consent page.
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || s.authz == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar sync is not configured")
		return
	}
	if err := s.cfg.ValidateSync(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if s.syncer.State() != gcal.StateReady {
		ictx, cancel := context.WithTimeout(r.Context(), initTimeout)
		err := s.syncer.Initialize(ictx, s.cfg.Google.ClientID)
		cancel()
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, gcal.UserMessage(err))
			return
		}
	}

	job, ok := s.startJob()
	if !ok {
		writeError(w, http.StatusConflict, gcal.UserMessage(gcal.ErrSyncInProgress))
		return
	}

	select {
	case consentURL := <-s.authz.Prompts():
		http.Redirect(w, r, consentURL, http.StatusFound)
	case <-job.done:
		// Finished without asking for consent; that is always a failure.
		s.writeJobResult(w, job)
	case <-r.Context().Done():
		// The browser left before it could be redirected.
		job.cancel()
	}
}

func (s *Server) startJob() (*syncJob, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job != nil {
		select {
		case <-s.job.done:
		default:
			return nil, false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	job := &syncJob{done: make(chan struct{}), cancel: cancel}
	s.job = job
	events := s.schedule.Events()

	go func() {
		defer close(job.done)
		defer cancel()
		job.resp, job.err = s.syncer.SyncEvents(ctx, events)
		if job.err != nil {
			appLog.Error("web sync failed", job.err)
		}
	}()
	return job, true
}

// handleSyncCallback hands the provider redirect to the waiting sync and
// reports its outcome.
func (s *Server) handleSyncCallback(w http.ResponseWriter, r *http.Request) {
	if s.authz == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar sync is not configured")
		return
	}
	if err := s.authz.Deliver(r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.jobMu.Lock()
	job := s.job
	s.jobMu.Unlock()
	if job == nil {
		writeError(w, http.StatusBadRequest, "no calendar sync is running")
		return
	}

	select {
	case <-job.done:
		s.writeJobResult(w, job)
	case <-r.Context().Done():
	}
}

func (s *Server) writeJobResult(w http.ResponseWriter, job *syncJob) {
	if job.err != nil {
		status := http.StatusBadGateway
		var authErr *gcal.AuthError
		if errors.As(job.err, &authErr) {
			status = http.StatusForbidden
		}
		writeError(w, status, gcal.UserMessage(job.err))
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Status:    job.resp.StatusCode,
		Succeeded: job.resp.Succeeded(),
		Failed:    job.resp.Failed(),
		Items:     job.resp.Items,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
