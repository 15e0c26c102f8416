// Package session maintains one HTTP client per target domain, each with
// its own cookie jar and a bounded lifetime. Rotating clients hourly
// freshens cookies and connection state.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

// Defaults.
const (
	DefaultTTL          = time.Hour
	DefaultConnsPerHost = 5
	requestTimeout      = 30 * time.Second
)

type entry struct {
	client    *http.Client
	createdAt time.Time
}

// Manager hands out per-domain HTTP clients, recreating them once their
// TTL has passed.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration

	// Transport overrides the per-session transport when set; tests use
	// this to intercept requests.
	Transport http.RoundTripper

	now func() time.Time
}

// NewManager returns a Manager with the given session TTL (DefaultTTL when
// non-positive).
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the client for domain, creating or rotating it as needed.
func (m *Manager) Get(domain string) *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[domain]; ok {
		if m.now().Sub(e.createdAt) < m.ttl {
			return e.client
		}
		closeIdle(e.client)
		log.WithField("domain", domain).Debug("Rotating expired session")
	}

	e := &entry{client: m.newClient(), createdAt: m.now()}
	m.sessions[domain] = e
	return e.client
}

// CloseAll releases every session. Called on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for domain, e := range m.sessions {
		closeIdle(e.client)
		delete(m.sessions, domain)
	}
}

// Close drops the session for a single domain.
func (m *Manager) Close(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[domain]; ok {
		closeIdle(e.client)
		delete(m.sessions, domain)
	}
}

func (m *Manager) newClient() *http.Client {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New only fails on bad options; a jarless client still works.
		log.WithError(err).Warn("Failed to create cookie jar")
	}
	transport := m.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxConnsPerHost:     DefaultConnsPerHost,
			MaxIdleConnsPerHost: DefaultConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   requestTimeout,
	}
}

func closeIdle(c *http.Client) {
	type idleCloser interface{ CloseIdleConnections() }
	if t, ok := c.Transport.(idleCloser); ok {
		t.CloseIdleConnections()
	}
}
