// Package feed holds the domain types shared by the polling engine:
// subscriptions, fetched items and parsed feeds.
package feed

import (
	"regexp"
	"strings"
	"time"
)

// A Feed is a single subscription owned by one chat. Rows are created by
// the management layer; the polling pipeline only mutates the check
// bookkeeping (LastCheck, LastItemID, LastNotifiedAt, Failures).
type Feed struct {
	ID           string
	ChatID       string
	Name         string
	URL          string // as supplied by the user
	CanonicalURL string // RSS/Atom URL after Reddit/YouTube conversion
	Enabled      bool
	Failures     int

	LastItemID     string
	LastNotifiedAt *time.Time
	LastSeenAt     *time.Time // reserved, never written by the engine
	LastCheck      *time.Time

	CheckIntervalMinutes int
	MaxAgeMinutes        int

	Filters []Filter
}

// FetchURL returns the URL the pipeline should fetch: the canonical URL
// when conversion has happened, the original otherwise.
func (f *Feed) FetchURL() string {
	if f.CanonicalURL != "" {
		return f.CanonicalURL
	}
	return f.URL
}

// Due reports whether the feed's check interval has elapsed at now.
func (f *Feed) Due(now time.Time) bool {
	if f.LastCheck == nil {
		return true
	}
	interval := time.Duration(f.CheckIntervalMinutes) * time.Minute
	return now.Sub(*f.LastCheck) >= interval
}

// FilterType discriminates include and exclude filters.
type FilterType string

// Filter types.
const (
	FilterInclude FilterType = "include"
	FilterExclude FilterType = "exclude"
)

// A Filter restricts which items of a feed produce notifications.
type Filter struct {
	Type    FilterType `json:"type"`
	Pattern string     `json:"pattern"`
	IsRegex bool       `json:"is_regex"`
}

// Matches reports whether the filter pattern matches the item's title or
// description. Non-regex patterns match as case-insensitive substrings;
// invalid regexes never match.
func (fl *Filter) Matches(item *Item) bool {
	text := item.Title + "\n" + item.Description
	if !fl.IsRegex {
		return strings.Contains(strings.ToLower(text), strings.ToLower(fl.Pattern))
	}
	re, err := regexp.Compile("(?i)" + fl.Pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// ApplyFilters returns the items that pass the filter set: when include
// filters exist an item must match at least one of them, and an item
// matching any exclude filter is dropped. An empty filter set passes
// everything through.
func ApplyFilters(items []Item, filters []Filter) []Item {
	if len(filters) == 0 {
		return items
	}
	hasInclude := false
	for i := range filters {
		if filters[i].Type == FilterInclude {
			hasInclude = true
			break
		}
	}

	kept := make([]Item, 0, len(items))
	for i := range items {
		item := &items[i]
		excluded := false
		included := !hasInclude
		for j := range filters {
			fl := &filters[j]
			switch fl.Type {
			case FilterExclude:
				if fl.Matches(item) {
					excluded = true
				}
			case FilterInclude:
				if fl.Matches(item) {
					included = true
				}
			}
		}
		if included && !excluded {
			kept = append(kept, *item)
		}
	}
	return kept
}

// An Item is a single entry of a fetched feed. Items without an ID are
// discarded during normalization.
type Item struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	Published   *time.Time `json:"pub_date,omitempty"`
	Author      string     `json:"author,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	GUID        string     `json:"guid,omitempty"`
}

// Parsed is the normalized result of one fetch: the items in source order
// plus the feed-level metadata. Source order is whatever the remote
// returned; it is not assumed chronological.
type Parsed struct {
	Items       []Item `json:"items"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}
