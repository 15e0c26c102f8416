// Package delta decides which fetched items are new. Feeds such as
// Reddit order items by popularity rather than time, so position-based
// comparison against the last seen item is useless; the engine compares
// publication dates strictly instead.
package delta

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/feed"
)

// Result of one delta computation. Compute never fails; malformed inputs
// produce an empty result.
type Result struct {
	// Items to notify, most recent first.
	Items []feed.Item
	// TotalCount is how many items the fetched feed contained.
	TotalCount int
	// BaselineItemID is set on the first observation of a feed: the
	// caller must store it as last_item_id without notifying anything.
	BaselineItemID string
	// BaselineTime is the most recent pub_date in the feed on first
	// observation; callers store it as last_notified_at, falling back to
	// now when the feed carries no dates.
	BaselineTime *time.Time
	// FirstItemID is the ID at position 0 of the fetched feed. When no
	// items were new the caller bumps last_item_id to it, keeping
	// last_notified_at untouched.
	FirstItemID string
}

// Compute returns the items newer than lastNotifiedAt.
//
// A feed seen for the first time (empty lastItemID) produces no items,
// only a baseline: notifying a page of historical posts on subscribe
// helps nobody. A missing lastNotifiedAt with a known lastItemID is a
// degenerate state; the first item alone is treated as new to recover.
func Compute(parsed *feed.Parsed, lastItemID string, lastNotifiedAt *time.Time) Result {
	if parsed == nil || len(parsed.Items) == 0 {
		return Result{}
	}

	first := parsed.Items[0]
	result := Result{
		TotalCount:  len(parsed.Items),
		FirstItemID: first.ID,
	}

	if lastItemID == "" {
		result.BaselineItemID = first.ID
		result.BaselineTime = mostRecent(parsed.Items)
		log.WithFields(log.Fields{
			"feed":  parsed.Title,
			"items": len(parsed.Items),
		}).Info("First observation, establishing baseline")
		return result
	}

	if lastNotifiedAt == nil {
		result.Items = []feed.Item{first}
		return result
	}

	for _, item := range parsed.Items {
		if item.Published == nil {
			log.WithFields(log.Fields{
				"feed": parsed.Title,
				"item": item.ID,
			}).Warn("Skipping item without a publication date")
			continue
		}
		if item.Published.After(*lastNotifiedAt) {
			result.Items = append(result.Items, item)
		}
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].Published.After(*result.Items[j].Published)
	})
	return result
}

// mostRecent returns the latest pub_date across items, nil when no item
// carries one.
func mostRecent(items []feed.Item) *time.Time {
	var latest *time.Time
	for i := range items {
		p := items[i].Published
		if p == nil {
			continue
		}
		if latest == nil || p.After(*latest) {
			latest = p
		}
	}
	return latest
}
