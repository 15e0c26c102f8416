// Package database persists feeds, chats and per-domain blocking
// statistics over database/sql. SQLite is the default backend; Postgres
// is supported through the same statements.
package database

import (
	"database/sql"
	"time"

	"feedwatch/feed"
)

// A ServiceDB stores the feeds, chats and blocking statistics.
type ServiceDB struct {
	db *sql.DB
}

// A single global instance of the service DB.
var globalServiceDB Storer

// SetServiceDB sets the global service DB instance.
func SetServiceDB(db Storer) {
	globalServiceDB = db
}

// GetServiceDB gets the global service DB instance.
func GetServiceDB() Storer {
	return globalServiceDB
}

// Storer is the interface which needs to be conformed to in order to
// persist feedwatch data.
type Storer interface {
	LoadEnabledFeeds() ([]feed.Feed, error)
	LoadFeedsForChat(chatID string) ([]feed.Feed, error)
	StoreFeed(f feed.Feed) error
	DeleteFeed(id string) error
	UpdateFeedCheck(id string, lastCheck time.Time, lastItemID string, lastNotifiedAt *time.Time, failures int) error

	StoreChat(id, chatType, title string) error

	RecordRequestSuccess(domain, userAgent string, delay time.Duration) error
	RecordRequestFailure(domain string, statusCode int, delay time.Duration, breakerState string) error
	UpdateBreakerState(domain, state string) error
	UpdateDelay(domain string, delay time.Duration) error
	UpdatePreferredUserAgent(domain, userAgent string) error

	LoadDomainStats(domain string) (*DomainStats, error)
	LoadAllDomainStats() ([]DomainStats, error)
	SuccessRate(domain string) (float64, error)
	LowSuccessDomains(threshold float64) ([]DomainStats, error)
	DomainsByBreakerState(state string) ([]DomainStats, error)
	StatsSummary() (*StatsSummary, error)
	DomainReport(domain string) (*DomainReport, error)
	ResetOldStats(age time.Duration) (int, error)
}

// Open a SQL database to use as a ServiceDB. This will automatically create
// the necessary database tables if they aren't already present.
func Open(databaseType, databaseURL string) (serviceDB *ServiceDB, err error) {
	db, err := sql.Open(databaseType, databaseURL)
	if err != nil {
		return
	}
	if _, err = db.Exec(schemaSQL); err != nil {
		return
	}
	if databaseType == "sqlite3" {
		// Fix for "database is locked" errors
		// https://github.com/mattn/go-sqlite3/issues/274
		db.SetMaxOpenConns(1)
	}
	serviceDB = &ServiceDB{db: db}
	return
}

// Close the underlying database handle.
func (d *ServiceDB) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection.
func (d *ServiceDB) Ping() error {
	return d.db.Ping()
}

func runTransaction(db *sql.DB, fn func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			txn.Rollback()
			panic(r)
		} else if err != nil {
			txn.Rollback()
		} else {
			err = txn.Commit()
		}
	}()
	err = fn(txn)
	return
}
