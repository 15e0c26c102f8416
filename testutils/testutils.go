// Package testutils holds HTTP fakes shared by the engine's tests.
package testutils

import (
	"io"
	"net/http"
	"strings"
)

// MockTransport implements RoundTripper
type MockTransport struct {
	// RT is the RoundTrip function. Replace this function with your test function.
	// For example:
	//   t := MockTransport{}
	//   t.RT = func(req *http.Request) (*http.Response, error) {
	//       // assert req args, return res or error
	//   }
	RT func(*http.Request) (*http.Response, error)
}

// RoundTrip is a RoundTripper
func (t MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.RT(req)
}

// NewRoundTripper returns a new RoundTripper which will call the provided function.
func NewRoundTripper(roundTrip func(*http.Request) (*http.Response, error)) http.RoundTripper {
	rt := MockTransport{}
	rt.RT = roundTrip
	return rt
}

// Response builds an HTTP response with the given status, body and
// optional header pairs.
func Response(statusCode int, body string, headerPairs ...string) *http.Response {
	header := make(http.Header)
	for i := 0; i+1 < len(headerPairs); i += 2 {
		header.Set(headerPairs[i], headerPairs[i+1])
	}
	return &http.Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// RSSFeed renders a minimal RSS document with the given item XML
// fragments, for use as a fetch response body.
func RSSFeed(title string, items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>`)
	b.WriteString("<title>" + title + "</title>")
	for _, item := range items {
		b.WriteString(item)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

// RSSItem renders one RSS item with a guid, title and RFC 1123 pubDate.
func RSSItem(guid, title, link, pubDate string) string {
	var b strings.Builder
	b.WriteString("<item>")
	b.WriteString("<guid>" + guid + "</guid>")
	b.WriteString("<title>" + title + "</title>")
	if link != "" {
		b.WriteString("<link>" + link + "</link>")
	}
	if pubDate != "" {
		b.WriteString("<pubDate>" + pubDate + "</pubDate>")
	}
	b.WriteString("</item>")
	return b.String()
}
