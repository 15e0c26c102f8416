package database

import (
	"database/sql"
	"time"
)

// DomainStats is one row of per-domain request accounting.
type DomainStats struct {
	Domain              string     `json:"domain"`
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	BlockedRequests     int64      `json:"blocked_requests"`
	RateLimitedRequests int64      `json:"rate_limited_requests"`
	CurrentDelay        float64    `json:"current_delay_secs"`
	BreakerState        string     `json:"breaker_state"`
	PreferredUserAgent  string     `json:"preferred_user_agent"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// SuccessRate returns successful/total, or 1 when the domain has not
// been requested yet.
func (s *DomainStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1.0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// StatsSummary aggregates blocking stats across all domains.
type StatsSummary struct {
	TotalDomains    int     `json:"total_domains"`
	TotalRequests   int64   `json:"total_requests"`
	TotalSuccessful int64   `json:"total_successful"`
	TotalBlocked    int64   `json:"total_blocked"`
	TotalRateLimits int64   `json:"total_rate_limits"`
	OverallRate     float64 `json:"overall_success_rate"`
	OpenBreakers    int     `json:"open_breakers"`
}

// DomainReport is the detailed view of one domain served on the admin
// endpoint.
type DomainReport struct {
	DomainStats
	SuccessRatePct float64 `json:"success_rate_pct"`
}

const statsColumns = `
domain, total_requests, successful_requests, blocked_requests,
rate_limited_requests, current_delay_secs, breaker_state,
preferred_user_agent, last_success_ms, last_failure_ms
`

func scanDomainStats(row rowScanner) (s DomainStats, err error) {
	var lastSuccess, lastFailure sql.NullInt64
	err = row.Scan(
		&s.Domain, &s.TotalRequests, &s.SuccessfulRequests,
		&s.BlockedRequests, &s.RateLimitedRequests, &s.CurrentDelay,
		&s.BreakerState, &s.PreferredUserAgent, &lastSuccess, &lastFailure,
	)
	if err != nil {
		return
	}
	s.LastSuccess = millisToTime(lastSuccess)
	s.LastFailure = millisToTime(lastFailure)
	return
}

const insertDomainStatsSQL = `
INSERT INTO blocking_stats(
	domain, total_requests, successful_requests, blocked_requests,
	rate_limited_requests, current_delay_secs, breaker_state,
	preferred_user_agent, last_success_ms, last_failure_ms,
	time_added_ms, time_updated_ms
) VALUES ($1, 0, 0, 0, 0, $2, 'closed', '', NULL, NULL, $3, $4)
`

const selectDomainExistsSQL = `
SELECT COUNT(*) FROM blocking_stats WHERE domain = $1
`

// ensureDomainRow inserts the zeroed row for a domain if it is missing.
// Runs inside the caller's transaction so record operations stay atomic.
func ensureDomainRow(txn *sql.Tx, domain string, delay time.Duration) error {
	var count int
	if err := txn.QueryRow(selectDomainExistsSQL, domain).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := nowMillis(time.Now())
	_, err := txn.Exec(insertDomainStatsSQL, domain, delay.Seconds(), now, now)
	return err
}

const recordSuccessSQL = `
UPDATE blocking_stats SET
	total_requests = total_requests + 1,
	successful_requests = successful_requests + 1,
	current_delay_secs = $1,
	preferred_user_agent = $2,
	last_success_ms = $3,
	time_updated_ms = $3
	WHERE domain = $4
`

// RecordRequestSuccess bumps the success counters for the domain and
// stores the user agent that worked and the delay after decay.
func (d *ServiceDB) RecordRequestSuccess(domain, userAgent string, delay time.Duration) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := ensureDomainRow(txn, domain, delay); err != nil {
			return err
		}
		_, err := txn.Exec(recordSuccessSQL,
			delay.Seconds(), userAgent, nowMillis(time.Now()), domain)
		return err
	})
}

const recordFailureSQL = `
UPDATE blocking_stats SET
	total_requests = total_requests + 1,
	blocked_requests = blocked_requests + $1,
	rate_limited_requests = rate_limited_requests + $2,
	current_delay_secs = $3,
	breaker_state = $4,
	last_failure_ms = $5,
	time_updated_ms = $5
	WHERE domain = $6
`

// RecordRequestFailure bumps the failure counters. A 403 counts as
// blocked, a 429 as rate limited; other status codes only bump the
// total.
func (d *ServiceDB) RecordRequestFailure(domain string, statusCode int, delay time.Duration, breakerState string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := ensureDomainRow(txn, domain, delay); err != nil {
			return err
		}
		var blocked, rateLimited int
		switch statusCode {
		case 403:
			blocked = 1
		case 429:
			rateLimited = 1
		}
		_, err := txn.Exec(recordFailureSQL,
			blocked, rateLimited, delay.Seconds(), breakerState,
			nowMillis(time.Now()), domain)
		return err
	})
}

const updateBreakerStateSQL = `
UPDATE blocking_stats SET breaker_state = $1, time_updated_ms = $2 WHERE domain = $3
`

// UpdateBreakerState records a circuit breaker transition.
func (d *ServiceDB) UpdateBreakerState(domain, state string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := ensureDomainRow(txn, domain, 0); err != nil {
			return err
		}
		_, err := txn.Exec(updateBreakerStateSQL, state, nowMillis(time.Now()), domain)
		return err
	})
}

const updateDelaySQL = `
UPDATE blocking_stats SET current_delay_secs = $1, time_updated_ms = $2 WHERE domain = $3
`

// UpdateDelay records the current adaptive delay for the domain.
func (d *ServiceDB) UpdateDelay(domain string, delay time.Duration) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := ensureDomainRow(txn, domain, delay); err != nil {
			return err
		}
		_, err := txn.Exec(updateDelaySQL, delay.Seconds(), nowMillis(time.Now()), domain)
		return err
	})
}

const updatePreferredUASQL = `
UPDATE blocking_stats SET preferred_user_agent = $1, time_updated_ms = $2 WHERE domain = $3
`

// UpdatePreferredUserAgent records the best-performing user agent.
func (d *ServiceDB) UpdatePreferredUserAgent(domain, userAgent string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := ensureDomainRow(txn, domain, 0); err != nil {
			return err
		}
		_, err := txn.Exec(updatePreferredUASQL, userAgent, nowMillis(time.Now()), domain)
		return err
	})
}

const selectDomainStatsSQL = `
SELECT ` + statsColumns + ` FROM blocking_stats WHERE domain = $1
`

// LoadDomainStats returns the stats row for one domain, or nil if the
// domain has never been requested.
func (d *ServiceDB) LoadDomainStats(domain string) (stats *DomainStats, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		s, err := scanDomainStats(txn.QueryRow(selectDomainStatsSQL, domain))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		stats = &s
		return nil
	})
	return
}

const selectAllDomainStatsSQL = `
SELECT ` + statsColumns + ` FROM blocking_stats ORDER BY domain
`

// LoadAllDomainStats returns the stats rows for every known domain.
func (d *ServiceDB) LoadAllDomainStats() (all []DomainStats, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		rows, err := txn.Query(selectAllDomainStatsSQL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanDomainStats(rows)
			if err != nil {
				return err
			}
			all = append(all, s)
		}
		return rows.Err()
	})
	return
}

// SuccessRate returns the success ratio for one domain; unknown domains
// report 1.
func (d *ServiceDB) SuccessRate(domain string) (float64, error) {
	stats, err := d.LoadDomainStats(domain)
	if err != nil {
		return 0, err
	}
	if stats == nil {
		return 1.0, nil
	}
	return stats.SuccessRate(), nil
}

// LowSuccessDomains returns domains whose success rate is below
// threshold, skipping domains with no requests yet.
func (d *ServiceDB) LowSuccessDomains(threshold float64) ([]DomainStats, error) {
	all, err := d.LoadAllDomainStats()
	if err != nil {
		return nil, err
	}
	var low []DomainStats
	for _, s := range all {
		if s.TotalRequests > 0 && s.SuccessRate() < threshold {
			low = append(low, s)
		}
	}
	return low, nil
}

const selectByBreakerStateSQL = `
SELECT ` + statsColumns + ` FROM blocking_stats WHERE breaker_state = $1 ORDER BY domain
`

// DomainsByBreakerState returns domains whose breaker is in the given
// state.
func (d *ServiceDB) DomainsByBreakerState(state string) (matched []DomainStats, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		rows, err := txn.Query(selectByBreakerStateSQL, state)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanDomainStats(rows)
			if err != nil {
				return err
			}
			matched = append(matched, s)
		}
		return rows.Err()
	})
	return
}

// StatsSummary aggregates the per-domain rows into one report.
func (d *ServiceDB) StatsSummary() (*StatsSummary, error) {
	all, err := d.LoadAllDomainStats()
	if err != nil {
		return nil, err
	}
	summary := &StatsSummary{TotalDomains: len(all)}
	for _, s := range all {
		summary.TotalRequests += s.TotalRequests
		summary.TotalSuccessful += s.SuccessfulRequests
		summary.TotalBlocked += s.BlockedRequests
		summary.TotalRateLimits += s.RateLimitedRequests
		if s.BreakerState == "open" {
			summary.OpenBreakers++
		}
	}
	if summary.TotalRequests > 0 {
		summary.OverallRate = float64(summary.TotalSuccessful) / float64(summary.TotalRequests)
	} else {
		summary.OverallRate = 1.0
	}
	return summary, nil
}

// DomainReport returns the detailed stats view for one domain, or nil
// for unknown domains.
func (d *ServiceDB) DomainReport(domain string) (*DomainReport, error) {
	stats, err := d.LoadDomainStats(domain)
	if err != nil || stats == nil {
		return nil, err
	}
	return &DomainReport{
		DomainStats:    *stats,
		SuccessRatePct: stats.SuccessRate() * 100,
	}, nil
}

const resetOldStatsSQL = `
UPDATE blocking_stats SET
	total_requests = 0,
	successful_requests = 0,
	blocked_requests = 0,
	rate_limited_requests = 0,
	current_delay_secs = 0,
	time_updated_ms = $1
	WHERE time_updated_ms < $2
`

// ResetOldStats zeroes the counters and delay of rows untouched for
// longer than age, keeping the domain and its learned user agent so
// dormant sites re-learn from a clean slate. Returns how many rows were
// reset.
func (d *ServiceDB) ResetOldStats(age time.Duration) (reset int, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		now := time.Now()
		cutoff := nowMillis(now.Add(-age))
		res, err := txn.Exec(resetOldStatsSQL, nowMillis(now), cutoff)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		reset = int(n)
		return err
	})
	return
}
