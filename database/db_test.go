package database

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/feed"
)

func openTestDB(t *testing.T) *ServiceDB {
	t.Helper()
	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndLoadFeeds(t *testing.T) {
	db := openTestDB(t)
	notified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	f := feed.Feed{
		ID:                   "feed-1",
		ChatID:               "42",
		Name:                 "Example",
		URL:                  "https://example.com",
		CanonicalURL:         "https://example.com/feed.xml",
		Enabled:              true,
		LastItemID:           "item-a",
		LastNotifiedAt:       &notified,
		CheckIntervalMinutes: 15,
		MaxAgeMinutes:        120,
		Filters: []feed.Filter{
			{Type: feed.FilterExclude, Pattern: "sponsored"},
		},
	}
	require.NoError(t, db.StoreFeed(f))

	feeds, err := db.LoadEnabledFeeds()
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	got := feeds[0]
	assert.Equal(t, "feed-1", got.ID)
	assert.Equal(t, "https://example.com/feed.xml", got.CanonicalURL)
	assert.Equal(t, "item-a", got.LastItemID)
	require.NotNil(t, got.LastNotifiedAt)
	assert.True(t, got.LastNotifiedAt.Equal(notified))
	assert.Nil(t, got.LastCheck)
	require.Len(t, got.Filters, 1)
	assert.Equal(t, feed.FilterExclude, got.Filters[0].Type)

	byChat, err := db.LoadFeedsForChat("42")
	require.NoError(t, err)
	assert.Len(t, byChat, 1)
}

func TestStoreFeedUpdatesExistingRow(t *testing.T) {
	db := openTestDB(t)
	f := feed.Feed{ID: "feed-1", ChatID: "42", Name: "Example", URL: "https://example.com", Enabled: true}
	require.NoError(t, db.StoreFeed(f))

	f.Name = "Renamed"
	f.Enabled = false
	require.NoError(t, db.StoreFeed(f))

	feeds, err := db.LoadEnabledFeeds()
	require.NoError(t, err)
	assert.Empty(t, feeds, "disabled feed still listed as enabled")

	byChat, err := db.LoadFeedsForChat("42")
	require.NoError(t, err)
	require.Len(t, byChat, 1)
	assert.Equal(t, "Renamed", byChat[0].Name)
}

func TestDeleteFeed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.StoreFeed(feed.Feed{ID: "feed-1", ChatID: "42", Name: "Example", URL: "u", Enabled: true}))
	require.NoError(t, db.DeleteFeed("feed-1"))

	feeds, err := db.LoadEnabledFeeds()
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestUpdateFeedCheck(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.StoreFeed(feed.Feed{ID: "feed-1", ChatID: "42", Name: "Example", URL: "u", Enabled: true}))

	checkTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	notified := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpdateFeedCheck("feed-1", checkTime, "item-b", &notified, 0))

	feeds, err := db.LoadEnabledFeeds()
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	got := feeds[0]
	assert.Equal(t, "item-b", got.LastItemID)
	require.NotNil(t, got.LastCheck)
	assert.True(t, got.LastCheck.Equal(checkTime))
	require.NotNil(t, got.LastNotifiedAt)
	assert.True(t, got.LastNotifiedAt.Equal(notified))
}

func TestStoreChatInsertAndUpdate(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.StoreChat("42", "private", "Alice"))
	require.NoError(t, db.StoreChat("42", "private", "Alice Renamed"))
}

func TestRecordRequestCounters(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.RecordRequestSuccess("example.com", "agent-1", 5*time.Second))
	require.NoError(t, db.RecordRequestFailure("example.com", 403, 10*time.Second, "closed"))
	require.NoError(t, db.RecordRequestFailure("example.com", 429, 20*time.Second, "closed"))
	require.NoError(t, db.RecordRequestFailure("example.com", 500, 20*time.Second, "closed"))

	stats, err := db.LoadDomainStats("example.com")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
	assert.Equal(t, int64(1), stats.RateLimitedRequests)
	assert.Equal(t, "agent-1", stats.PreferredUserAgent)
	assert.Equal(t, 20.0, stats.CurrentDelay)
	assert.NotNil(t, stats.LastSuccess)
	assert.NotNil(t, stats.LastFailure)
	assert.Equal(t, 0.25, stats.SuccessRate())

	rate, err := db.SuccessRate("example.com")
	require.NoError(t, err)
	assert.Equal(t, 0.25, rate)
}

func TestUnknownDomainDefaults(t *testing.T) {
	db := openTestDB(t)

	stats, err := db.LoadDomainStats("unknown.test")
	require.NoError(t, err)
	assert.Nil(t, stats)

	rate, err := db.SuccessRate("unknown.test")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	report, err := db.DomainReport("unknown.test")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestLowSuccessDomains(t *testing.T) {
	db := openTestDB(t)

	// healthy.test: 1/1, bad.test: 1/3.
	require.NoError(t, db.RecordRequestSuccess("healthy.test", "ua", time.Second))
	require.NoError(t, db.RecordRequestSuccess("bad.test", "ua", time.Second))
	require.NoError(t, db.RecordRequestFailure("bad.test", 403, time.Second, "closed"))
	require.NoError(t, db.RecordRequestFailure("bad.test", 403, time.Second, "closed"))

	low, err := db.LowSuccessDomains(0.5)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "bad.test", low[0].Domain)
}

func TestBreakerStateQueries(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpdateBreakerState("a.test", "open"))
	require.NoError(t, db.UpdateBreakerState("b.test", "closed"))

	open, err := db.DomainsByBreakerState("open")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a.test", open[0].Domain)
}

func TestStatsSummary(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordRequestSuccess("a.test", "ua", time.Second))
	require.NoError(t, db.RecordRequestFailure("b.test", 403, time.Second, "open"))
	require.NoError(t, db.UpdateBreakerState("b.test", "open"))

	summary, err := db.StatsSummary()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalDomains)
	assert.Equal(t, int64(2), summary.TotalRequests)
	assert.Equal(t, int64(1), summary.TotalSuccessful)
	assert.Equal(t, int64(1), summary.TotalBlocked)
	assert.Equal(t, 0.5, summary.OverallRate)
	assert.Equal(t, 1, summary.OpenBreakers)
}

func TestDomainReport(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordRequestSuccess("a.test", "ua", time.Second))
	require.NoError(t, db.RecordRequestFailure("a.test", 403, time.Second, "closed"))

	report, err := db.DomainReport("a.test")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 50.0, report.SuccessRatePct)
}

func TestResetOldStatsKeepsDomainAndUserAgent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordRequestSuccess("a.test", "learned-agent", 30*time.Second))
	require.NoError(t, db.RecordRequestFailure("a.test", 429, 60*time.Second, "closed"))

	// A negative age puts the cutoff in the future, so every row counts
	// as stale.
	reset, err := db.ResetOldStats(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	stats, err := db.LoadDomainStats("a.test")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.SuccessfulRequests)
	assert.Zero(t, stats.RateLimitedRequests)
	assert.Zero(t, stats.CurrentDelay)
	assert.Equal(t, "learned-agent", stats.PreferredUserAgent, "reset must keep the learned user agent")

	// A freshly updated row is untouched.
	reset, err = db.ResetOldStats(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, reset)
}
