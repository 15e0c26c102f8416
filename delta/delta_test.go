package delta

import (
	"testing"
	"time"

	"feedwatch/feed"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func parsedFeed(items ...feed.Item) *feed.Parsed {
	return &feed.Parsed{Title: "Test Feed", Items: items}
}

func TestFirstObservationEstablishesBaseline(t *testing.T) {
	p := parsedFeed(
		feed.Item{ID: "a", Published: ts("2024-06-01T10:00:00Z")},
		feed.Item{ID: "b", Published: ts("2024-06-01T09:00:00Z")},
		feed.Item{ID: "c", Published: ts("2024-06-01T08:00:00Z")},
	)

	result := Compute(p, "", nil)
	if len(result.Items) != 0 {
		t.Fatalf("first observation must not notify, got %d items", len(result.Items))
	}
	if result.BaselineItemID != "a" {
		t.Fatalf("BaselineItemID: got %q, want %q", result.BaselineItemID, "a")
	}
	if result.BaselineTime == nil || !result.BaselineTime.Equal(*ts("2024-06-01T10:00:00Z")) {
		t.Fatalf("BaselineTime: got %v, want the most recent pub_date", result.BaselineTime)
	}
}

func TestStrictNewerSurvivesPopularityOrder(t *testing.T) {
	// Position 0 is older than the boundary; the new item hides at the end.
	p := parsedFeed(
		feed.Item{ID: "a", Published: ts("2024-06-01T10:00:00Z")},
		feed.Item{ID: "b", Published: ts("2024-06-01T09:00:00Z")},
		feed.Item{ID: "d", Published: ts("2024-06-01T11:00:00Z")},
	)

	result := Compute(p, "a", ts("2024-06-01T10:00:00Z"))
	if len(result.Items) != 1 || result.Items[0].ID != "d" {
		t.Fatalf("expected exactly the 11:00 item, got %+v", result.Items)
	}
	if result.FirstItemID != "a" {
		t.Fatalf("FirstItemID: got %q, want %q", result.FirstItemID, "a")
	}
}

func TestEqualDateIsNotNew(t *testing.T) {
	p := parsedFeed(feed.Item{ID: "a", Published: ts("2024-06-01T10:00:00Z")})
	result := Compute(p, "x", ts("2024-06-01T10:00:00Z"))
	if len(result.Items) != 0 {
		t.Fatalf("pub_date equal to last_notified_at must not notify, got %+v", result.Items)
	}
}

func TestItemsSortedNewestFirst(t *testing.T) {
	p := parsedFeed(
		feed.Item{ID: "a", Published: ts("2024-06-01T11:00:00Z")},
		feed.Item{ID: "b", Published: ts("2024-06-01T13:00:00Z")},
		feed.Item{ID: "c", Published: ts("2024-06-01T12:00:00Z")},
	)
	result := Compute(p, "x", ts("2024-06-01T10:00:00Z"))
	if len(result.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(result.Items))
	}
	for i, want := range []string{"b", "c", "a"} {
		if result.Items[i].ID != want {
			t.Fatalf("item %d: got %q, want %q", i, result.Items[i].ID, want)
		}
	}
}

func TestItemsWithoutDatesAreSkipped(t *testing.T) {
	p := parsedFeed(
		feed.Item{ID: "undated"},
		feed.Item{ID: "dated", Published: ts("2024-06-01T11:00:00Z")},
	)
	result := Compute(p, "x", ts("2024-06-01T10:00:00Z"))
	if len(result.Items) != 1 || result.Items[0].ID != "dated" {
		t.Fatalf("expected only the dated item, got %+v", result.Items)
	}
}

func TestMissingLastNotifiedRecoversWithFirstItem(t *testing.T) {
	p := parsedFeed(
		feed.Item{ID: "a", Published: ts("2024-06-01T10:00:00Z")},
		feed.Item{ID: "b", Published: ts("2024-06-01T09:00:00Z")},
	)
	result := Compute(p, "b", nil)
	if len(result.Items) != 1 || result.Items[0].ID != "a" {
		t.Fatalf("degenerate recovery must return the first item, got %+v", result.Items)
	}
}

func TestEmptyFeed(t *testing.T) {
	if result := Compute(parsedFeed(), "x", ts("2024-06-01T10:00:00Z")); len(result.Items) != 0 || result.FirstItemID != "" {
		t.Fatalf("empty feed must produce an empty result, got %+v", result)
	}
	if result := Compute(nil, "", nil); result.BaselineItemID != "" {
		t.Fatalf("nil feed must produce an empty result, got %+v", result)
	}
}
