// Package format composes chat notifications from feed items and
// sanitizes their HTML down to the tag set Telegram accepts.
package format

import (
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	log "github.com/sirupsen/logrus"

	"feedwatch/feed"
)

// maxDescriptionLen bounds the description excerpt in a notification.
const maxDescriptionLen = 500

const pubDateLayout = "2006-01-02 15:04:05 UTC"

// Message renders one feed item as a notification. HTML mode sanitizes
// every field; plain mode strips markup entirely and is used as the
// send fallback.
func Message(item feed.Item, feedName string, useHTML bool) string {
	title := item.Title
	if title == "" {
		title = "No title"
	}
	description := item.Description
	var pubDate string
	if item.Published != nil {
		pubDate = item.Published.UTC().Format(pubDateLayout)
	}

	var b strings.Builder
	if useHTML {
		b.WriteString("📰 <b>" + Sanitize(feedName) + "</b>\n\n")
		b.WriteString("<b>" + Sanitize(title) + "</b>\n\n")
		if description != "" {
			b.WriteString(truncate(Sanitize(description)) + "\n\n")
		}
		if pubDate != "" {
			b.WriteString("🕐 " + pubDate + "\n\n")
		}
		if item.Link != "" {
			b.WriteString("🔗 <a href=\"" + Sanitize(item.Link) + "\">Read more</a>")
		}
	} else {
		b.WriteString("📰 " + StripTags(feedName) + "\n\n")
		b.WriteString(StripTags(title) + "\n\n")
		if description != "" {
			b.WriteString(truncate(StripTags(description)) + "\n\n")
		}
		if pubDate != "" {
			b.WriteString("🕐 " + pubDate + "\n\n")
		}
		if item.Link != "" {
			b.WriteString("🔗 " + item.Link)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDescriptionLen {
		return s
	}
	return string(runes[:maxDescriptionLen]) + "..."
}

var (
	stripTagRe   = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// StripTags converts HTML to plain text: tags removed, entities
// unescaped, whitespace collapsed.
func StripTags(text string) string {
	if text == "" {
		return ""
	}
	plain, err := html2text.FromString(text, html2text.Options{TextOnly: true})
	if err != nil {
		log.WithError(err).Debug("html2text failed, stripping tags directly")
		plain = stripTagRe.ReplaceAllString(commentRe.ReplaceAllString(text, ""), "")
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(plain, " "))
}
