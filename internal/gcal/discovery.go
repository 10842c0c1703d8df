package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	// DefaultDiscoveryURL is the Calendar API v3 discovery document.
	DefaultDiscoveryURL = "https://www.googleapis.com/discovery/v1/apis/calendar/v3/rest"
	// DefaultIdentityURL is Google's OpenID configuration, used to check the
	// authorization server is reachable.
	DefaultIdentityURL = "https://accounts.google.com/.well-known/openid-configuration"
)

// Provider is the part of the discovery document the batch client needs.
type Provider struct {
	RootURL     string
	ServicePath string
	BatchPath   string
}

// BatchURL is the absolute endpoint that accepts multipart batch requests.
func (p Provider) BatchURL() string {
	return strings.TrimRight(p.RootURL, "/") + "/" + strings.TrimLeft(p.BatchPath, "/")
}

// InsertPath is the request path of an events.insert call inside a batch.
func (p Provider) InsertPath(calendarID string) string {
	svc := "/" + strings.Trim(p.ServicePath, "/") + "/"
	return svc + "calendars/" + url.PathEscape(calendarID) + "/events"
}

type discoveryDoc struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	RootURL     string `json:"rootUrl"`
	ServicePath string `json:"servicePath"`
	BatchPath   string `json:"batchPath"`
}

// httpProbe is ready once url answers 200.
type httpProbe struct {
	name   string
	url    string
	client *http.Client
}

func (p *httpProbe) Name() string { return p.name }

func (p *httpProbe) Check(ctx context.Context) error {
	_, err := get(ctx, p.client, p.url)
	return err
}

// discoveryProbe is ready once the discovery document loads and names a
// batch endpoint. The parsed Provider is kept for the session.
type discoveryProbe struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	provider Provider
}

func (p *discoveryProbe) Name() string { return "calendar discovery document" }

func (p *discoveryProbe) Check(ctx context.Context) error {
	body, err := get(ctx, p.client, p.url)
	if err != nil {
		return err
	}

	var doc discoveryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.RootURL == "" || doc.BatchPath == "" || doc.ServicePath == "" {
		return errors.New("discovery document lacks rootUrl, servicePath or batchPath")
	}

	p.mu.Lock()
	p.provider = Provider{
		RootURL:     doc.RootURL,
		ServicePath: doc.ServicePath,
		BatchPath:   doc.BatchPath,
	}
	p.mu.Unlock()
	return nil
}

func (p *discoveryProbe) Provider() Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider
}

func get(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return body, nil
}
