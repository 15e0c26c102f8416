package router

import (
	"context"
	"errors"
	"testing"
)

func TestCanonicalizeTable(t *testing.T) {
	r := &Router{}
	cases := []struct {
		name  string
		in    string
		want  Route
		fails bool
	}{
		{
			name: "already canonical rss",
			in:   "https://example.com/blog/index.rss",
			want: Route{Kind: KindDirect, URL: "https://example.com/blog/index.rss"},
		},
		{
			name: "already canonical atom",
			in:   "https://example.com/atom.xml",
			want: Route{Kind: KindDirect, URL: "https://example.com/atom.xml"},
		},
		{
			name: "converted youtube feed bypasses detection",
			in:   "https://www.youtube.com/feeds/videos.xml?channel_id=UCabcdefghijklmnopqrstuv",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UCabcdefghijklmnopqrstuv"},
		},
		{
			name: "bare youtube channel id",
			in:   "UCabcdefghijklmnopqrstuv",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UCabcdefghijklmnopqrstuv"},
		},
		{
			name: "youtube channel path",
			in:   "https://www.youtube.com/channel/UCabcdefghijklmnopqrstuv",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UCabcdefghijklmnopqrstuv"},
		},
		{
			name: "youtube legacy user path",
			in:   "https://www.youtube.com/user/somebody",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?user=somebody"},
		},
		{
			name: "bare handle without resolver",
			in:   "@somehandle",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?user=somehandle"},
		},
		{
			name: "youtube custom path",
			in:   "https://www.youtube.com/c/SomeChannel",
			want: Route{Kind: KindDirect, URL: "https://www.youtube.com/feeds/videos.xml?user=SomeChannel"},
		},
		{
			name: "subreddit goes through the chain",
			in:   "https://www.reddit.com/r/golang",
			want: Route{Kind: KindReddit, Subreddit: "golang"},
		},
		{
			name: "reddit non-subreddit page gets .rss appended",
			in:   "https://www.reddit.com/user/someone/submitted/",
			want: Route{Kind: KindDirect, URL: "https://www.reddit.com/user/someone/submitted/.rss"},
		},
		{
			name: "plain site passes through",
			in:   "https://example.com/blog/feed",
			want: Route{Kind: KindDirect, URL: "https://example.com/blog/feed"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Canonicalize(context.Background(), tc.in)
			if tc.fails {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCanonicalizeHandleWithResolver(t *testing.T) {
	r := &Router{
		ResolveHandle: func(_ context.Context, handle string) (string, error) {
			if handle != "somehandle" {
				t.Fatalf("resolver got handle %q", handle)
			}
			return "UCresolvedchannelid00000", nil
		},
	}
	got, err := r.Canonicalize(context.Background(), "https://www.youtube.com/@somehandle")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://www.youtube.com/feeds/videos.xml?channel_id=UCresolvedchannelid00000"
	if got.URL != want {
		t.Fatalf("got %q, want %q", got.URL, want)
	}
}

func TestCanonicalizeResolverFailure(t *testing.T) {
	sentinel := errors.New("lookup failed")
	r := &Router{
		ResolveHandle: func(context.Context, string) (string, error) { return "", sentinel },
	}
	if _, err := r.Canonicalize(context.Background(), "@broken"); !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want wrapped resolver error", err)
	}
}

func TestCanonicalizeUnconvertibleYouTube(t *testing.T) {
	r := &Router{}
	if _, err := r.Canonicalize(context.Background(), "https://www.youtube.com/watch?v=abc"); err == nil {
		t.Fatal("expected an error for a video URL with no channel info")
	}
}
