package gcal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	appLog "f1sync/internal/log"
)

// Authorizer obtains an access token after showing the user an explicit
// consent prompt. Implementations must not reuse earlier tokens.
type Authorizer interface {
	RequestAccessToken(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)

func (f AuthorizerFunc) RequestAccessToken(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, conf)
}

// AuthError carries the provider's error parameters from the redirect
// unchanged (e.g. Code "access_denied" when the user declines).
type AuthError struct {
	Code        string
	Description string
	URI         string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return "authorization failed: " + e.Code + ": " + e.Description
	}
	return "authorization failed: " + e.Code
}

// consent holds the per-attempt values of one authorization request.
type consent struct {
	state    string
	verifier string
	url      string
}

// newConsent builds a consent URL that always prompts (prompt=consent) and
// binds the attempt with a random state and a PKCE verifier.
func newConsent(conf *oauth2.Config) consent {
	c := consent{
		state:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
	}
	c.url = conf.AuthCodeURL(c.state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(c.verifier),
	)
	return c
}

// codeFromCallback validates a redirect query against the expected state.
func codeFromCallback(q url.Values, state string) (string, error) {
	if code := q.Get("error"); code != "" {
		return "", &AuthError{
			Code:        code,
			Description: q.Get("error_description"),
			URI:         q.Get("error_uri"),
		}
	}
	if q.Get("state") != state {
		return "", &AuthError{Code: "state_mismatch", Description: "redirect state does not match the request"}
	}
	code := q.Get("code")
	if code == "" {
		return "", &AuthError{Code: "missing_code", Description: "redirect carries no authorization code"}
	}
	return code, nil
}

func (c consent) exchange(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
	return conf.Exchange(ctx, code, oauth2.VerifierOption(c.verifier))
}

// LoopbackAuthorizer runs the consent flow for command line use: it serves
// the redirect on a loopback listener and hands the consent URL to Open.
type LoopbackAuthorizer struct {
	// Addr is the listen address; "127.0.0.1:0" picks a free port.
	Addr string
	// Open presents the consent URL to the user (print it, launch a
	// browser, ...). Required.
	Open func(consentURL string) error
}

func (a *LoopbackAuthorizer) RequestAccessToken(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	if a.Open == nil {
		return nil, errors.New("loopback authorizer: Open is nil")
	}
	addr := a.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()

	// Work on a copy; the redirect depends on the port we got.
	c := *conf
	c.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	cs := newConsent(&c)

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code, err := codeFromCallback(r.URL.Query(), cs.state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			_, _ = w.Write([]byte("Authorization received. You can close this window."))
		}
		select {
		case done <- result{code: code, err: err}:
		default:
		}
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	if err := a.Open(cs.url); err != nil {
		return nil, fmt.Errorf("open consent page: %w", err)
	}
	appLog.Debug("waiting for oauth redirect", "redirect", c.RedirectURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return cs.exchange(ctx, &c, res.code)
	}
}

// CallbackAuthorizer brokers the consent flow between a web handler that
// redirects the browser and the handler that receives the redirect back.
// One consent may be outstanding at a time per authorizer.
type CallbackAuthorizer struct {
	prompts chan string

	mu      sync.Mutex
	pending map[string]*pendingConsent
}

type pendingConsent struct {
	result chan url.Values
}

// ErrUnknownState is returned by Deliver when no consent is waiting for the
// given state (expired, already answered, or forged).
var ErrUnknownState = errors.New("no authorization is waiting for this state")

func NewCallbackAuthorizer() *CallbackAuthorizer {
	return &CallbackAuthorizer{
		prompts: make(chan string),
		pending: make(map[string]*pendingConsent),
	}
}

// Prompts yields the consent URL of each new authorization request. The web
// handler that started the sync redirects the browser there. The channel is
// unbuffered: a request waits until someone takes its URL.
func (a *CallbackAuthorizer) Prompts() <-chan string {
	return a.prompts
}

func (a *CallbackAuthorizer) RequestAccessToken(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	cs := newConsent(conf)
	p := &pendingConsent{result: make(chan url.Values, 1)}

	a.mu.Lock()
	a.pending[cs.state] = p
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, cs.state)
		a.mu.Unlock()
	}()

	select {
	case a.prompts <- cs.url:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case q := <-p.result:
		code, err := codeFromCallback(q, cs.state)
		if err != nil {
			return nil, err
		}
		return cs.exchange(ctx, conf, code)
	}
}

// Deliver hands the redirect query of the callback request to the waiting
// authorization.
func (a *CallbackAuthorizer) Deliver(q url.Values) error {
	a.mu.Lock()
	p, ok := a.pending[q.Get("state")]
	a.mu.Unlock()
	if !ok {
		return ErrUnknownState
	}
	select {
	case p.result <- q:
		return nil
	default:
		return ErrUnknownState
	}
}
