package fetch

import (
	"time"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"feedwatch/feed"
)

// Date layouts seen in the wild for entries whose parsed date is absent.
// RFC 1123 variants cover RFC 2822 style feed dates.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// normalize converts a gofeed result into the engine's representation.
// Entries with no usable ID are dropped; item order is preserved as the
// remote returned it.
func normalize(raw *gofeed.Feed) *feed.Parsed {
	parsed := &feed.Parsed{
		Title:       raw.Title,
		Description: raw.Description,
		Link:        raw.Link,
		Items:       make([]feed.Item, 0, len(raw.Items)),
	}

	for _, entry := range raw.Items {
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" {
			id = entry.Title
		}
		if id == "" {
			log.WithField("feed", raw.Title).Debug("Dropping feed entry without an ID")
			continue
		}

		item := feed.Item{
			ID:          id,
			Title:       entry.Title,
			Link:        entry.Link,
			Description: entry.Description,
			GUID:        entry.GUID,
			Categories:  entry.Categories,
			Published:   pubDate(entry),
		}
		if entry.Author != nil {
			item.Author = entry.Author.Name
		}
		parsed.Items = append(parsed.Items, item)
	}
	return parsed
}

// pubDate returns the entry's publication time in UTC, preferring the
// parser's result and falling back to parsing the raw date string.
func pubDate(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		t := entry.PublishedParsed.UTC()
		return &t
	}
	if entry.UpdatedParsed != nil {
		t := entry.UpdatedParsed.UTC()
		return &t
	}
	if entry.Published != "" {
		for _, layout := range pubDateLayouts {
			if t, err := time.Parse(layout, entry.Published); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}
