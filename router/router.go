// Package router classifies subscription URLs and rewrites them to
// canonical RSS/Atom URLs. Routing is pure string work; fetching is the
// caller's job, which keeps the fetcher free of URL special cases.
package router

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Kind of a routed URL.
type Kind string

// Route kinds.
const (
	// KindDirect means the URL (after any rewrite) is fetched as-is.
	KindDirect Kind = "direct"
	// KindReddit means the subreddit goes through the fallback chain.
	KindReddit Kind = "reddit"
)

// A Route is the result of classifying one input URL.
type Route struct {
	Kind Kind
	// URL is the canonical feed URL for KindDirect routes.
	URL string
	// Subreddit is set for KindReddit routes.
	Subreddit string
}

var (
	channelIDRe      = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{20,}$`)
	pathChannelRe    = regexp.MustCompile(`/channel/([a-zA-Z0-9_-]+)`)
	pathHandleRe     = regexp.MustCompile(`/@([a-zA-Z0-9_.-]+)`)
	pathCustomRe     = regexp.MustCompile(`/c/([a-zA-Z0-9_.-]+)`)
	pathUserRe       = regexp.MustCompile(`/user/([a-zA-Z0-9_-]+)`)
	redditSubRe      = regexp.MustCompile(`/r/([a-zA-Z0-9_]+)`)
	youtubeFeedURLFn = "https://www.youtube.com/feeds/videos.xml?%s=%s"
)

// Router rewrites input URLs to canonical feed URLs.
type Router struct {
	// ResolveHandle, when set, resolves a YouTube @handle or custom name
	// to a channel ID. Without it handles fall back to the user= feed URL,
	// which only works for legacy usernames.
	ResolveHandle func(ctx context.Context, handle string) (string, error)
}

// Canonicalize classifies raw and returns its route. Inputs that are
// already canonical feed URLs bypass detection so converted URLs never
// re-enter the YouTube or Reddit rules.
func (r *Router) Canonicalize(ctx context.Context, raw string) (Route, error) {
	raw = strings.TrimSpace(raw)

	if isCanonicalFeedURL(raw) {
		return Route{Kind: KindDirect, URL: raw}, nil
	}

	if isYouTube(raw) {
		canonical, err := r.youtubeFeedURL(ctx, raw)
		if err != nil {
			return Route{}, err
		}
		log.WithFields(log.Fields{"url": raw, "canonical": canonical}).Debug("Converted YouTube URL")
		return Route{Kind: KindDirect, URL: canonical}, nil
	}

	if isReddit(raw) {
		if m := redditSubRe.FindStringSubmatch(raw); m != nil {
			return Route{Kind: KindReddit, Subreddit: m[1]}, nil
		}
		return Route{Kind: KindDirect, URL: redditRSSURL(raw)}, nil
	}

	return Route{Kind: KindDirect, URL: raw}, nil
}

// isCanonicalFeedURL reports whether the URL already points at a feed.
func isCanonicalFeedURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasSuffix(lower, ".rss") ||
		strings.HasSuffix(lower, ".xml") ||
		strings.Contains(lower, "feeds/videos.xml") ||
		strings.Contains(lower, "atom.xml")
}

func isYouTube(raw string) bool {
	if channelIDRe.MatchString(raw) || strings.HasPrefix(raw, "@") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

func isReddit(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "reddit.com") || strings.Contains(host, "redd.it")
}

func redditRSSURL(raw string) string {
	return strings.TrimRight(raw, "/") + "/.rss"
}

// youtubeFeedURL converts any recognized YouTube form into the
// feeds/videos.xml URL.
func (r *Router) youtubeFeedURL(ctx context.Context, raw string) (string, error) {
	// Bare channel ID.
	if channelIDRe.MatchString(raw) {
		return fmt.Sprintf(youtubeFeedURLFn, "channel_id", raw), nil
	}

	// Bare @handle.
	if strings.HasPrefix(raw, "@") {
		return r.handleFeedURL(ctx, strings.TrimPrefix(raw, "@"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse YouTube URL: %w", err)
	}

	if m := pathChannelRe.FindStringSubmatch(u.Path); m != nil {
		if id := m[1]; strings.HasPrefix(id, "UC") && len(id) >= 22 {
			return fmt.Sprintf(youtubeFeedURLFn, "channel_id", id), nil
		}
	}
	if m := pathUserRe.FindStringSubmatch(u.Path); m != nil {
		return fmt.Sprintf(youtubeFeedURLFn, "user", m[1]), nil
	}
	if m := pathHandleRe.FindStringSubmatch(u.Path); m != nil {
		return r.handleFeedURL(ctx, m[1])
	}
	if m := pathCustomRe.FindStringSubmatch(u.Path); m != nil {
		return r.handleFeedURL(ctx, m[1])
	}
	if id := u.Query().Get("channel_id"); id != "" {
		return fmt.Sprintf(youtubeFeedURLFn, "channel_id", id), nil
	}

	return "", fmt.Errorf("cannot convert YouTube URL to a feed URL: %s", raw)
}

// handleFeedURL maps an @handle or custom name to a feed URL, resolving
// it to a channel ID when a resolver is wired in.
func (r *Router) handleFeedURL(ctx context.Context, handle string) (string, error) {
	if r.ResolveHandle != nil {
		id, err := r.ResolveHandle(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("resolve YouTube handle %q: %w", handle, err)
		}
		return fmt.Sprintf(youtubeFeedURLFn, "channel_id", id), nil
	}
	// Best effort: works only for channels whose handle matches a legacy
	// username.
	return fmt.Sprintf(youtubeFeedURLFn, "user", handle), nil
}
