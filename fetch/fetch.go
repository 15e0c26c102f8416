// Package fetch implements the single-URL feed fetch pipeline: circuit
// breaker gate, cache lookup, adaptive rate limiting, retried conditional
// GET, parsing and normalization.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"feedwatch/agent"
	"feedwatch/breaker"
	"feedwatch/cache"
	"feedwatch/feed"
	"feedwatch/metrics"
	"feedwatch/ratelimit"
	"feedwatch/session"
)

// Cache TTLs and retry policy.
const (
	DefaultFeedTTL = 5 * time.Minute
	DefaultMetaTTL = time.Hour

	maxAttempts     = 3
	backoffInterval = time.Second
	backoffCap      = 30 * time.Second
)

// ErrCircuitOpen is returned when the URL's circuit breaker denies the
// request.
var ErrCircuitOpen = errors.New("circuit open")

// A StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// A ParseError is a fatal feed parse failure. Parser warnings are treated
// as fatal rather than salvaging partial feeds; a feed broken enough to
// trip the parser is usually broken enough to produce garbage items.
type ParseError struct {
	Err error
}

func (e ParseError) Error() string { return "parse feed: " + e.Err.Error() }
func (e ParseError) Unwrap() error { return e.Err }

// StatsRecorder receives the per-domain request accounting. Errors are
// the recorder's problem; stats are best-effort.
type StatsRecorder interface {
	RecordRequestSuccess(domain, userAgent string, delay time.Duration) error
	RecordRequestFailure(domain string, statusCode int, delay time.Duration, breakerState string) error
}

// AlertSink receives block events and success resets for the alerting
// layer.
type AlertSink interface {
	RequestFailed(domain string, statusCode int)
	ResetConsecutive(domain string)
}

// validators is the cached conditional-GET metadata for one URL.
type validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Fetcher runs the fetch pipeline. All collaborators are injected so
// tests construct fresh instances per case.
type Fetcher struct {
	Pool     *agent.Pool
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
	Sessions *session.Manager
	Cache    cache.Store
	Stats    StatsRecorder
	Alerts   AlertSink

	FeedTTL time.Duration
	MetaTTL time.Duration

	parser *gofeed.Parser
}

// NewFetcher wires a Fetcher over the given collaborators. Stats and
// Alerts may be left nil.
func NewFetcher(pool *agent.Pool, limiter *ratelimit.Limiter, brk *breaker.Breaker, sessions *session.Manager, store cache.Store) *Fetcher {
	return &Fetcher{
		Pool:     pool,
		Limiter:  limiter,
		Breaker:  brk,
		Sessions: sessions,
		Cache:    store,
		FeedTTL:  DefaultFeedTTL,
		MetaTTL:  DefaultMetaTTL,
		parser:   gofeed.NewParser(),
	}
}

// Domain extracts the lowercased host of a URL, without port. Unparsable
// URLs map to the empty domain so callers still get rate limiting under
// one shared key.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Fetch retrieves and parses the feed at fetchURL. A cached copy is
// returned without touching the network. On failure the last attempt's
// error is returned; the breaker, rate limiter, UA pool and stats store
// have been updated either way.
func (f *Fetcher) Fetch(ctx context.Context, fetchURL string) (*feed.Parsed, error) {
	if !f.Breaker.Allow(fetchURL) {
		log.WithFields(log.Fields{
			"url":      fetchURL,
			"retry_in": f.Breaker.RetryIn(fetchURL),
		}).Warn("Circuit open, skipping fetch")
		return nil, ErrCircuitOpen
	}

	if parsed := f.cachedFeed(ctx, fetchURL); parsed != nil {
		metrics.IncrementCacheHit()
		return parsed, nil
	}
	metrics.IncrementCacheMiss()

	domain := Domain(fetchURL)
	if err := f.Limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}

	// When a 304 arrives with nothing in the feed cache the validators are
	// stale; the retry goes out unconditional.
	noConditional := false

	var parsed *feed.Parsed
	attempt := func() error {
		p, err := f.fetchOnce(ctx, fetchURL, domain, noConditional)
		if err != nil {
			if errors.Is(err, errStaleValidators) {
				noConditional = true
				return err
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		parsed = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInterval
	bo.MaxInterval = backoffCap
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
	if err != nil {
		metrics.IncrementPoll(domain, metrics.StatusFailure)
		return nil, err
	}
	metrics.IncrementPoll(domain, metrics.StatusSuccess)
	return parsed, nil
}

// errStaleValidators forces an unconditional retry after a 304 with an
// empty feed cache.
var errStaleValidators = errors.New("stale validators")

func (f *Fetcher) fetchOnce(ctx context.Context, fetchURL, domain string, noConditional bool) (*feed.Parsed, error) {
	ua := f.Pool.Pick(domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header = agent.Headers(fetchURL, ua)

	if !noConditional {
		if v := f.cachedValidators(ctx, fetchURL); v != nil {
			if v.ETag != "" {
				req.Header.Set("If-None-Match", v.ETag)
			}
			if v.LastModified != "" {
				req.Header.Set("If-Modified-Since", v.LastModified)
			}
		}
	}

	resp, err := f.Sessions.Get(domain).Do(req)
	if err != nil {
		f.recordFailure(fetchURL, domain, ua, 0)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if parsed := f.cachedFeed(ctx, fetchURL); parsed != nil {
			f.recordSuccess(fetchURL, domain, ua)
			return parsed, nil
		}
		f.Cache.Delete(ctx, metaKey(fetchURL))
		log.WithField("url", fetchURL).Debug("304 with empty cache, refetching unconditionally")
		return nil, errStaleValidators
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.recordFailure(fetchURL, domain, ua, resp.StatusCode)
		return nil, StatusError{Code: resp.StatusCode}
	}

	raw, err := f.parser.Parse(resp.Body)
	if err != nil {
		f.recordFailure(fetchURL, domain, ua, 0)
		return nil, ParseError{Err: err}
	}

	parsed := normalize(raw)
	f.storeFeed(ctx, fetchURL, parsed)
	f.storeValidators(ctx, fetchURL, resp.Header)
	f.recordSuccess(fetchURL, domain, ua)

	log.WithFields(log.Fields{
		"url":   fetchURL,
		"items": len(parsed.Items),
	}).Debug("Fetched feed")
	return parsed, nil
}

func (f *Fetcher) recordSuccess(fetchURL, domain, ua string) {
	f.Limiter.RecordSuccess(domain)
	f.Pool.RecordSuccess(domain, ua)
	f.Breaker.RecordSuccess(fetchURL)
	if f.Stats != nil {
		if err := f.Stats.RecordRequestSuccess(domain, ua, f.Limiter.CurrentDelay(domain)); err != nil {
			log.WithError(err).WithField("domain", domain).Error("Failed to record request success")
		}
	}
	if f.Alerts != nil {
		f.Alerts.ResetConsecutive(domain)
	}
}

func (f *Fetcher) recordFailure(fetchURL, domain, ua string, statusCode int) {
	f.Limiter.RecordFailure(domain, statusCode)
	f.Pool.RecordFailure(domain, ua)
	f.Breaker.RecordFailure(fetchURL)
	if f.Stats != nil {
		state := string(f.Breaker.State(fetchURL))
		if err := f.Stats.RecordRequestFailure(domain, statusCode, f.Limiter.CurrentDelay(domain), state); err != nil {
			log.WithError(err).WithField("domain", domain).Error("Failed to record request failure")
		}
	}
	if f.Alerts != nil {
		f.Alerts.RequestFailed(domain, statusCode)
	}
	log.WithFields(log.Fields{
		"url":         fetchURL,
		"domain":      domain,
		"status_code": statusCode,
	}).Warn("Feed fetch attempt failed")
}

func feedKey(u string) string { return "feed:" + u }
func metaKey(u string) string { return "feed_meta:" + u }

// cachedFeed returns the cached parse result, or nil on miss, decode
// failure or an empty item list.
func (f *Fetcher) cachedFeed(ctx context.Context, fetchURL string) *feed.Parsed {
	raw, ok := f.Cache.Get(ctx, feedKey(fetchURL))
	if !ok {
		return nil
	}
	var parsed feed.Parsed
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Items) == 0 {
		f.Cache.Delete(ctx, feedKey(fetchURL))
		return nil
	}
	return &parsed
}

func (f *Fetcher) cachedValidators(ctx context.Context, fetchURL string) *validators {
	raw, ok := f.Cache.Get(ctx, metaKey(fetchURL))
	if !ok {
		return nil
	}
	var v validators
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// storeFeed caches the parse result. Empty feeds are never cached; a
// cached empty feed would mask every later item until expiry.
func (f *Fetcher) storeFeed(ctx context.Context, fetchURL string, parsed *feed.Parsed) {
	if len(parsed.Items) == 0 {
		return
	}
	raw, err := json.Marshal(parsed)
	if err != nil {
		return
	}
	ttl := f.FeedTTL
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	f.Cache.Set(ctx, feedKey(fetchURL), raw, ttl)
}

func (f *Fetcher) storeValidators(ctx context.Context, fetchURL string, header http.Header) {
	v := validators{
		ETag:         header.Get("Etag"),
		LastModified: header.Get("Last-Modified"),
	}
	if v.ETag == "" && v.LastModified == "" {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := f.MetaTTL
	if ttl <= 0 {
		ttl = DefaultMetaTTL
	}
	f.Cache.Set(ctx, metaKey(fetchURL), raw, ttl)
}
