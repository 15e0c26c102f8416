package database

import (
	"errors"
	"time"

	"feedwatch/feed"
)

var errNotImplemented = errors.New("not implemented")

// NopStorage implements the Storer interface and returns errors for
// every function. Tests embed it and override the methods they need.
type NopStorage struct{}

// LoadEnabledFeeds returns errNotImplemented.
func (s *NopStorage) LoadEnabledFeeds() ([]feed.Feed, error) {
	return nil, errNotImplemented
}

// LoadFeedsForChat returns errNotImplemented.
func (s *NopStorage) LoadFeedsForChat(chatID string) ([]feed.Feed, error) {
	return nil, errNotImplemented
}

// StoreFeed returns errNotImplemented.
func (s *NopStorage) StoreFeed(f feed.Feed) error {
	return errNotImplemented
}

// DeleteFeed returns errNotImplemented.
func (s *NopStorage) DeleteFeed(id string) error {
	return errNotImplemented
}

// UpdateFeedCheck returns errNotImplemented.
func (s *NopStorage) UpdateFeedCheck(id string, lastCheck time.Time, lastItemID string, lastNotifiedAt *time.Time, failures int) error {
	return errNotImplemented
}

// StoreChat returns errNotImplemented.
func (s *NopStorage) StoreChat(id, chatType, title string) error {
	return errNotImplemented
}

// RecordRequestSuccess returns errNotImplemented.
func (s *NopStorage) RecordRequestSuccess(domain, userAgent string, delay time.Duration) error {
	return errNotImplemented
}

// RecordRequestFailure returns errNotImplemented.
func (s *NopStorage) RecordRequestFailure(domain string, statusCode int, delay time.Duration, breakerState string) error {
	return errNotImplemented
}

// UpdateBreakerState returns errNotImplemented.
func (s *NopStorage) UpdateBreakerState(domain, state string) error {
	return errNotImplemented
}

// UpdateDelay returns errNotImplemented.
func (s *NopStorage) UpdateDelay(domain string, delay time.Duration) error {
	return errNotImplemented
}

// UpdatePreferredUserAgent returns errNotImplemented.
func (s *NopStorage) UpdatePreferredUserAgent(domain, userAgent string) error {
	return errNotImplemented
}

// LoadDomainStats returns errNotImplemented.
func (s *NopStorage) LoadDomainStats(domain string) (*DomainStats, error) {
	return nil, errNotImplemented
}

// LoadAllDomainStats returns errNotImplemented.
func (s *NopStorage) LoadAllDomainStats() ([]DomainStats, error) {
	return nil, errNotImplemented
}

// SuccessRate returns errNotImplemented.
func (s *NopStorage) SuccessRate(domain string) (float64, error) {
	return 0, errNotImplemented
}

// LowSuccessDomains returns errNotImplemented.
func (s *NopStorage) LowSuccessDomains(threshold float64) ([]DomainStats, error) {
	return nil, errNotImplemented
}

// DomainsByBreakerState returns errNotImplemented.
func (s *NopStorage) DomainsByBreakerState(state string) ([]DomainStats, error) {
	return nil, errNotImplemented
}

// StatsSummary returns errNotImplemented.
func (s *NopStorage) StatsSummary() (*StatsSummary, error) {
	return nil, errNotImplemented
}

// DomainReport returns errNotImplemented.
func (s *NopStorage) DomainReport(domain string) (*DomainReport, error) {
	return nil, errNotImplemented
}

// ResetOldStats returns errNotImplemented.
func (s *NopStorage) ResetOldStats(age time.Duration) (int, error) {
	return 0, errNotImplemented
}
