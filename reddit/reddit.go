// Package reddit fetches subreddit feeds through a chain of endpoints,
// remembering which one last worked per subreddit.
package reddit

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/feed"
)

// MethodTTL is how long a learned per-subreddit method stays trusted.
const MethodTTL = 24 * time.Hour

// Fetcher retrieves and parses one canonical feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feed.Parsed, error)
}

// The endpoint methods, in fallback order.
const (
	methodRSS    = "rss"
	methodJSON   = "json"
	methodOldRSS = "old_rss"
)

var methodOrder = []string{methodRSS, methodJSON, methodOldRSS}

func methodURL(method, subreddit string) string {
	switch method {
	case methodJSON:
		return fmt.Sprintf("https://www.reddit.com/r/%s.json", subreddit)
	case methodOldRSS:
		return fmt.Sprintf("https://old.reddit.com/r/%s/.rss", subreddit)
	default:
		return fmt.Sprintf("https://www.reddit.com/r/%s/.rss", subreddit)
	}
}

type learned struct {
	method string
	at     time.Time
}

// Chain tries subreddit endpoints in fixed order, preferring the method
// that succeeded for the subreddit within the last 24 hours.
type Chain struct {
	fetcher Fetcher

	mu      sync.Mutex
	methods map[string]learned

	now func() time.Time
}

// NewChain returns a Chain delegating fetches to fetcher.
func NewChain(fetcher Fetcher) *Chain {
	return &Chain{
		fetcher: fetcher,
		methods: make(map[string]learned),
		now:     time.Now,
	}
}

// Fetch retrieves the subreddit's feed. The learned method is tried
// first; on its failure the entry is purged and the default order runs.
// The last method's error is returned when everything fails.
func (c *Chain) Fetch(ctx context.Context, subreddit string) (*feed.Parsed, error) {
	if method, ok := c.learnedMethod(subreddit); ok {
		log.WithFields(log.Fields{
			"subreddit": subreddit,
			"method":    method,
		}).Debug("Using learned Reddit access method")
		parsed, err := c.fetcher.Fetch(ctx, methodURL(method, subreddit))
		if err == nil {
			c.remember(subreddit, method)
			return parsed, nil
		}
		c.forget(subreddit)
	}

	var lastErr error
	for _, method := range methodOrder {
		parsed, err := c.fetcher.Fetch(ctx, methodURL(method, subreddit))
		if err == nil {
			c.remember(subreddit, method)
			log.WithFields(log.Fields{
				"subreddit": subreddit,
				"method":    method,
			}).Info("Reddit access succeeded")
			return parsed, nil
		}
		log.WithFields(log.Fields{
			"subreddit": subreddit,
			"method":    method,
		}).WithError(err).Debug("Reddit access method failed")
		lastErr = err
	}

	log.WithField("subreddit", subreddit).Error("All Reddit access methods failed")
	return nil, lastErr
}

func (c *Chain) learnedMethod(subreddit string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.methods[subreddit]
	if !ok {
		return "", false
	}
	if c.now().Sub(l.at) >= MethodTTL {
		delete(c.methods, subreddit)
		return "", false
	}
	return l.method, true
}

func (c *Chain) remember(subreddit, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[subreddit] = learned{method: method, at: c.now()}
}

func (c *Chain) forget(subreddit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.methods, subreddit)
}
