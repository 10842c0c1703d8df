package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"f1sync/internal/export"
	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultInitTimeout  = 10 * time.Second
)

// Options configures a Session. Zero values pick production defaults.
type Options struct {
	ClientSecret string
	RedirectURL  string
	CalendarID   string
	Season       int
	// DurationMinutes is the occurrence window length of synced events,
	// as in export.New: zero is kept, a negative value picks the default.
	DurationMinutes int

	PollInterval time.Duration
	InitTimeout  time.Duration
	Clock        Clock

	// HTTPClient is used for dependency probes and as the base transport of
	// the authorized batch client.
	HTTPClient *http.Client

	IdentityURL  string
	DiscoveryURL string
	Endpoint     oauth2.Endpoint

	Authorizer Authorizer

	// Now is the reference instant for fallback windows.
	Now func() time.Time
}

// Session owns the authorization handle for one provider account. It is
// created once and shared by reference; Initialize and SyncEvents are the
// only writers of its state.
type Session struct {
	opts Options

	mu       sync.Mutex
	state    State
	auth     AuthState
	conf     *oauth2.Config
	provider Provider
	syncing  bool
}

// NewSession returns an uninitialized session.
func NewSession(opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.IdentityURL == "" {
		opts.IdentityURL = DefaultIdentityURL
	}
	if opts.DiscoveryURL == "" {
		opts.DiscoveryURL = DefaultDiscoveryURL
	}
	if opts.Endpoint.AuthURL == "" {
		opts.Endpoint = google.Endpoint
	}
	if opts.DurationMinutes < 0 {
		opts.DurationMinutes = export.DefaultDurationMinutes
	}
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.Season <= 0 {
		opts.Season = 2026
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{opts: opts}
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AuthState reports the authorization state of the latest sync.
func (s *Session) AuthState() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// ClientID reports the client identifier of the token requester, or "" before
// initialization.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conf == nil {
		return ""
	}
	return s.conf.ClientID
}

// Initialize waits for the identity endpoint and the calendar discovery
// document, then prepares the token requester. On an already ready session
// it only swaps the client identifier.
func (s *Session) Initialize(ctx context.Context, clientID string) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		conf := *s.conf
		conf.ClientID = clientID
		s.conf = &conf
		s.mu.Unlock()
		appLog.Info("google calendar client id refreshed")
		return nil
	case StateInitializing:
		s.mu.Unlock()
		return ErrInitInProgress
	}
	s.state = StateInitializing
	s.mu.Unlock()

	identity := &httpProbe{name: "identity service", url: s.opts.IdentityURL, client: s.opts.HTTPClient}
	discovery := &discoveryProbe{url: s.opts.DiscoveryURL, client: s.opts.HTTPClient}

	started := time.Now()
	err := WaitReady(ctx, s.opts.Clock, s.opts.PollInterval, s.opts.InitTimeout, identity, discovery)
	metrics.InitDuration.Observe(time.Since(started).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateInitFailed
		appLog.Error("google calendar initialization failed", err)
		return err
	}

	s.conf = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: s.opts.ClientSecret,
		Endpoint:     s.opts.Endpoint,
		RedirectURL:  s.opts.RedirectURL,
		Scopes:       []string{calendar.CalendarEventsScope},
	}
	s.provider = discovery.Provider()
	s.state = StateReady
	appLog.Info("google calendar ready", "batch_url", s.provider.BatchURL())
	return nil
}

// SyncEvents authorizes with an explicit consent prompt and then inserts all
// events in one batch. Authorization always precedes submission. Errors from
// the authorizer or the batch call are returned unchanged; nothing is
// retried, and syncing the same events twice creates duplicates.
func (s *Session) SyncEvents(ctx context.Context, events []model.Event) (*BatchResponse, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		metrics.SyncRuns.WithLabelValues("not_initialized").Inc()
		return nil, ErrNotInitialized
	}
	if s.syncing {
		s.mu.Unlock()
		metrics.SyncRuns.WithLabelValues("busy").Inc()
		return nil, ErrSyncInProgress
	}
	authz := s.opts.Authorizer
	if authz == nil {
		s.mu.Unlock()
		return nil, ErrNoAuthorizer
	}
	s.syncing = true
	s.auth = AuthAuthorizing
	conf := *s.conf
	provider := s.provider
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.opts.HTTPClient)

	tok, err := authz.RequestAccessToken(ctx, &conf)
	if err != nil {
		s.setAuth(AuthFailed)
		metrics.SyncRuns.WithLabelValues("auth_failed").Inc()
		return nil, err
	}
	s.setAuth(AuthAuthorized)

	client := conf.Client(ctx, tok)
	resp, err := BatchCreateEvents(ctx, client, BatchRequest{
		Provider:        provider,
		CalendarID:      s.opts.CalendarID,
		Season:          s.opts.Season,
		DurationMinutes: s.opts.DurationMinutes,
		Now:             s.opts.Now,
	}, events)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("batch_failed").Inc()
		return nil, err
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	return resp, nil
}

func (s *Session) setAuth(a AuthState) {
	s.mu.Lock()
	s.auth = a
	s.mu.Unlock()
}

// UserMessage turns a sync or initialization error into text for the
// presentation layer, keeping dependency failures apart from network and
// authorization failures.
func UserMessage(err error) string {
	var authErr *AuthError
	var retrieveErr *oauth2.RetrieveError
	var batchErr *BatchError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDependencyUnavailable):
		return "Google API services failed to load. Check your network or ad blocker and try again."
	case errors.Is(err, ErrNotInitialized):
		return "Google Calendar is not initialized yet."
	case errors.Is(err, ErrSyncInProgress):
		return "A calendar sync is already running."
	case errors.As(err, &authErr):
		return fmt.Sprintf("Google authorization was not granted (%s).", authErr.Code)
	case errors.As(err, &retrieveErr):
		return "Google rejected the authorization code."
	case errors.As(err, &batchErr):
		return fmt.Sprintf("Google Calendar rejected the batch (HTTP %d).", batchErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The calendar sync was cancelled or timed out."
	default:
		return "Calendar sync failed: " + err.Error()
	}
}
