// Package metrics exposes Prometheus counters for the polling engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status is the status of a measurable metric (feed polls, sends, etc)
type Status string

// Common status values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	pollCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_poll_total",
		Help: "The number of feed fetch attempts, by domain and status",
	}, []string{"domain", "status"})
	notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_notification_total",
		Help: "The number of chat notifications sent, by status",
	}, []string{"status"})
	breakerOpenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_breaker_open_total",
		Help: "The number of circuit breaker open transitions, by domain",
	}, []string{"domain"})
	cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_cache_total",
		Help: "The number of feed cache lookups, by outcome",
	}, []string{"outcome"})
	alertCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_alert_total",
		Help: "The number of admin alerts raised, by kind",
	}, []string{"kind"})
)

// IncrementPoll increments the feed poll counter
func IncrementPoll(domain string, st Status) {
	pollCounter.With(prometheus.Labels{"domain": domain, "status": string(st)}).Inc()
}

// IncrementNotification increments the sent notification counter
func IncrementNotification(st Status) {
	notificationCounter.With(prometheus.Labels{"status": string(st)}).Inc()
}

// IncrementBreakerOpen increments the breaker open transition counter
func IncrementBreakerOpen(domain string) {
	breakerOpenCounter.With(prometheus.Labels{"domain": domain}).Inc()
}

// IncrementCacheHit increments the cache hit counter
func IncrementCacheHit() {
	cacheCounter.With(prometheus.Labels{"outcome": "hit"}).Inc()
}

// IncrementCacheMiss increments the cache miss counter
func IncrementCacheMiss() {
	cacheCounter.With(prometheus.Labels{"outcome": "miss"}).Inc()
}

// IncrementAlert increments the admin alert counter
func IncrementAlert(kind string) {
	alertCounter.With(prometheus.Labels{"kind": kind}).Inc()
}

func init() {
	prometheus.MustRegister(pollCounter)
	prometheus.MustRegister(notificationCounter)
	prometheus.MustRegister(breakerOpenCounter)
	prometheus.MustRegister(cacheCounter)
	prometheus.MustRegister(alertCounter)
}
