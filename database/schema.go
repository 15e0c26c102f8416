package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"feedwatch/feed"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id TEXT NOT NULL,
	chat_type TEXT NOT NULL,
	title TEXT NOT NULL,
	time_added_ms BIGINT NOT NULL,
	time_updated_ms BIGINT NOT NULL,
	UNIQUE(chat_id)
);

CREATE TABLE IF NOT EXISTS feeds (
	feed_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	enabled BOOLEAN NOT NULL,
	failures INTEGER NOT NULL,
	last_item_id TEXT NOT NULL,
	last_notified_at_ms BIGINT,
	last_seen_at_ms BIGINT,
	last_check_ms BIGINT,
	check_interval_minutes INTEGER NOT NULL,
	max_age_minutes INTEGER NOT NULL,
	filters_json TEXT NOT NULL,
	time_added_ms BIGINT NOT NULL,
	time_updated_ms BIGINT NOT NULL,
	UNIQUE(feed_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS chat_and_name_idx ON feeds(chat_id, name);

CREATE TABLE IF NOT EXISTS blocking_stats (
	domain TEXT NOT NULL,
	total_requests INTEGER NOT NULL,
	successful_requests INTEGER NOT NULL,
	blocked_requests INTEGER NOT NULL,
	rate_limited_requests INTEGER NOT NULL,
	current_delay_secs REAL NOT NULL,
	breaker_state TEXT NOT NULL,
	preferred_user_agent TEXT NOT NULL,
	last_success_ms BIGINT,
	last_failure_ms BIGINT,
	time_added_ms BIGINT NOT NULL,
	time_updated_ms BIGINT NOT NULL,
	UNIQUE(domain)
);
`

const feedColumns = `
feed_id, chat_id, name, url, canonical_url, enabled, failures, last_item_id,
last_notified_at_ms, last_seen_at_ms, last_check_ms,
check_interval_minutes, max_age_minutes, filters_json
`

func nowMillis(now time.Time) int64 {
	return now.UnixNano() / 1000000
}

func millisToTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.Unix(0, ms.Int64*int64(time.Millisecond)).UTC()
	return &t
}

func timeToMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano() / 1000000, Valid: true}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row rowScanner) (f feed.Feed, err error) {
	var notifiedAt, seenAt, lastCheck sql.NullInt64
	var filtersJSON []byte
	err = row.Scan(
		&f.ID, &f.ChatID, &f.Name, &f.URL, &f.CanonicalURL, &f.Enabled,
		&f.Failures, &f.LastItemID, &notifiedAt, &seenAt, &lastCheck,
		&f.CheckIntervalMinutes, &f.MaxAgeMinutes, &filtersJSON,
	)
	if err != nil {
		return
	}
	f.LastNotifiedAt = millisToTime(notifiedAt)
	f.LastSeenAt = millisToTime(seenAt)
	f.LastCheck = millisToTime(lastCheck)
	if len(filtersJSON) > 0 {
		err = json.Unmarshal(filtersJSON, &f.Filters)
	}
	return
}

const selectEnabledFeedsSQL = `
SELECT ` + feedColumns + ` FROM feeds WHERE enabled = $1 ORDER BY feed_id
`

// LoadEnabledFeeds returns every enabled feed.
func (d *ServiceDB) LoadEnabledFeeds() (feeds []feed.Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		rows, err := txn.Query(selectEnabledFeedsSQL, true)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFeed(rows)
			if err != nil {
				return err
			}
			feeds = append(feeds, f)
		}
		return rows.Err()
	})
	return
}

const selectFeedsForChatSQL = `
SELECT ` + feedColumns + ` FROM feeds WHERE chat_id = $1 ORDER BY name
`

// LoadFeedsForChat returns all feeds owned by a chat.
func (d *ServiceDB) LoadFeedsForChat(chatID string) (feeds []feed.Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		rows, err := txn.Query(selectFeedsForChatSQL, chatID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFeed(rows)
			if err != nil {
				return err
			}
			feeds = append(feeds, f)
		}
		return rows.Err()
	})
	return
}

const selectFeedExistsSQL = `
SELECT COUNT(*) FROM feeds WHERE feed_id = $1
`

const insertFeedSQL = `
INSERT INTO feeds(
	feed_id, chat_id, name, url, canonical_url, enabled, failures,
	last_item_id, last_notified_at_ms, last_seen_at_ms, last_check_ms,
	check_interval_minutes, max_age_minutes, filters_json,
	time_added_ms, time_updated_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const updateFeedSQL = `
UPDATE feeds SET chat_id = $1, name = $2, url = $3, canonical_url = $4,
	enabled = $5, failures = $6, last_item_id = $7,
	last_notified_at_ms = $8, last_seen_at_ms = $9, last_check_ms = $10,
	check_interval_minutes = $11, max_age_minutes = $12, filters_json = $13,
	time_updated_ms = $14
	WHERE feed_id = $15
`

// StoreFeed inserts the feed or, if a row with the same ID exists,
// updates it.
func (d *ServiceDB) StoreFeed(f feed.Feed) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		filtersJSON, err := json.Marshal(f.Filters)
		if err != nil {
			return err
		}
		now := nowMillis(time.Now())

		var count int
		if err := txn.QueryRow(selectFeedExistsSQL, f.ID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			_, err = txn.Exec(insertFeedSQL,
				f.ID, f.ChatID, f.Name, f.URL, f.CanonicalURL, f.Enabled,
				f.Failures, f.LastItemID, timeToMillis(f.LastNotifiedAt),
				timeToMillis(f.LastSeenAt), timeToMillis(f.LastCheck),
				f.CheckIntervalMinutes, f.MaxAgeMinutes, filtersJSON, now, now,
			)
			return err
		}
		_, err = txn.Exec(updateFeedSQL,
			f.ChatID, f.Name, f.URL, f.CanonicalURL, f.Enabled, f.Failures,
			f.LastItemID, timeToMillis(f.LastNotifiedAt),
			timeToMillis(f.LastSeenAt), timeToMillis(f.LastCheck),
			f.CheckIntervalMinutes, f.MaxAgeMinutes, filtersJSON, now, f.ID,
		)
		return err
	})
}

const deleteFeedSQL = `
DELETE FROM feeds WHERE feed_id = $1
`

// DeleteFeed removes the feed row.
func (d *ServiceDB) DeleteFeed(id string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		_, err := txn.Exec(deleteFeedSQL, id)
		return err
	})
}

const updateFeedCheckSQL = `
UPDATE feeds SET last_check_ms = $1, last_item_id = $2,
	last_notified_at_ms = $3, failures = $4, time_updated_ms = $5
	WHERE feed_id = $6
`

// UpdateFeedCheck persists the bookkeeping of one check cycle. A nil
// lastNotifiedAt keeps the column NULL only when it was never set; the
// caller passes the previous value otherwise, making the update
// idempotent.
func (d *ServiceDB) UpdateFeedCheck(id string, lastCheck time.Time, lastItemID string, lastNotifiedAt *time.Time, failures int) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		_, err := txn.Exec(updateFeedCheckSQL,
			nowMillis(lastCheck), lastItemID, timeToMillis(lastNotifiedAt),
			failures, nowMillis(time.Now()), id,
		)
		return err
	})
}

const selectChatExistsSQL = `
SELECT COUNT(*) FROM chats WHERE chat_id = $1
`

const insertChatSQL = `
INSERT INTO chats(chat_id, chat_type, title, time_added_ms, time_updated_ms)
VALUES ($1, $2, $3, $4, $5)
`

const updateChatSQL = `
UPDATE chats SET chat_type = $1, title = $2, time_updated_ms = $3 WHERE chat_id = $4
`

// StoreChat inserts or updates a chat row.
func (d *ServiceDB) StoreChat(id, chatType, title string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		now := nowMillis(time.Now())
		var count int
		if err := txn.QueryRow(selectChatExistsSQL, id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			_, err := txn.Exec(insertChatSQL, id, chatType, title, now, now)
			return err
		}
		_, err := txn.Exec(updateChatSQL, chatType, title, now, id)
		return err
	})
}
