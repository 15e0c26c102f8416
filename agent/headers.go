package agent

import (
	"math/rand"
	"net/http"
	"strings"
)

// acceptLanguages is the short list Accept-Language is drawn from.
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"pt-BR,pt;q=0.9,en;q=0.8",
	"es-ES,es;q=0.9,en;q=0.8",
}

// Headers builds the full browser-like header set for a GET of url using
// the given User-Agent. Reddit hosts additionally get a reddit.com
// referer; no other referers are ever sent.
func Headers(url, userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	// Accept-Encoding is left to the transport so gzip responses are
	// decompressed transparently.
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")

	if strings.Contains(url, "reddit.com") {
		h.Set("Referer", "https://www.reddit.com/")
	}
	return h
}
