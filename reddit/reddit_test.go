package reddit

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedwatch/feed"
)

// fakeFetcher succeeds only for URLs in ok, recording every attempt.
type fakeFetcher struct {
	ok    map[string]bool
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*feed.Parsed, error) {
	f.calls = append(f.calls, url)
	if f.ok[url] {
		return &feed.Parsed{Items: []feed.Item{{ID: "x"}}}, nil
	}
	return nil, errors.New("blocked")
}

func TestFallbackOrder(t *testing.T) {
	ff := &fakeFetcher{ok: map[string]bool{
		"https://old.reddit.com/r/golang/.rss": true,
	}}
	c := NewChain(ff)

	parsed, err := c.Fetch(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("got %d items", len(parsed.Items))
	}

	want := []string{
		"https://www.reddit.com/r/golang/.rss",
		"https://www.reddit.com/r/golang.json",
		"https://old.reddit.com/r/golang/.rss",
	}
	if len(ff.calls) != len(want) {
		t.Fatalf("calls: got %v, want %v", ff.calls, want)
	}
	for i := range want {
		if ff.calls[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q", i, ff.calls[i], want[i])
		}
	}
}

func TestLearnedMethodTriedFirst(t *testing.T) {
	ff := &fakeFetcher{ok: map[string]bool{
		"https://old.reddit.com/r/golang/.rss": true,
	}}
	c := NewChain(ff)

	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}

	ff.calls = nil
	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}
	if len(ff.calls) != 1 || ff.calls[0] != "https://old.reddit.com/r/golang/.rss" {
		t.Fatalf("learned method not tried first: %v", ff.calls)
	}
}

func TestLearnedMethodPurgedOnFailure(t *testing.T) {
	ff := &fakeFetcher{ok: map[string]bool{
		"https://old.reddit.com/r/golang/.rss": true,
	}}
	c := NewChain(ff)
	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}

	// The learned endpoint stops working; the default RSS endpoint comes back.
	ff.ok = map[string]bool{"https://www.reddit.com/r/golang/.rss": true}
	ff.calls = nil
	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://old.reddit.com/r/golang/.rss",
		"https://www.reddit.com/r/golang/.rss",
	}
	if len(ff.calls) != 2 || ff.calls[0] != want[0] || ff.calls[1] != want[1] {
		t.Fatalf("calls: got %v, want %v", ff.calls, want)
	}

	// The purge must not leave the dead method behind.
	if method, ok := c.learnedMethod("golang"); !ok || method != methodRSS {
		t.Fatalf("learned method: got %q/%v, want rss", method, ok)
	}
}

func TestLearnedMethodExpires(t *testing.T) {
	ff := &fakeFetcher{ok: map[string]bool{
		"https://old.reddit.com/r/golang/.rss": true,
	}}
	c := NewChain(ff)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}

	now = now.Add(MethodTTL)
	ff.calls = nil
	if _, err := c.Fetch(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}
	if ff.calls[0] != "https://www.reddit.com/r/golang/.rss" {
		t.Fatalf("expired method still preferred: %v", ff.calls)
	}
}

func TestAllMethodsFail(t *testing.T) {
	ff := &fakeFetcher{ok: map[string]bool{}}
	c := NewChain(ff)
	if _, err := c.Fetch(context.Background(), "golang"); err == nil {
		t.Fatal("expected an error when every method fails")
	}
}
