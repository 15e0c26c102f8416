// Package polling drives the periodic feed checks: every tick it loads
// the enabled feeds, fetches the due ones sequentially, computes deltas
// and delivers notifications. Two background jobs watch blocking stats
// and reset stale ones.
package polling

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/database"
	"feedwatch/delta"
	"feedwatch/feed"
	"feedwatch/fetch"
	"feedwatch/format"
	"feedwatch/metrics"
	"feedwatch/reddit"
	"feedwatch/router"
	"feedwatch/session"
	"feedwatch/telegram"
)

// Timings of the main tick and its secondary jobs.
const (
	DefaultInterval = 5 * time.Minute
	// Pause between feeds within one tick; crude politeness on top of the
	// per-domain rate limiter.
	DefaultFeedPause = time.Second

	statsCheckInterval = time.Hour
	cleanupHourUTC     = 3
	statsMaxAge        = 7 * 24 * time.Hour
	lowSuccessLimit    = 0.5
)

// Notifier delivers a formatted message to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID, text string, mode telegram.ParseMode) error
}

// AlertChecker consumes the hourly blocking-stats review.
type AlertChecker interface {
	LowSuccess(domain string, successRate float64, totalRequests int64)
}

// Scheduler owns the polling pipeline and its collaborators' lifetimes.
type Scheduler struct {
	DB       database.Storer
	Fetcher  *fetch.Fetcher
	Reddit   *reddit.Chain
	Router   *router.Router
	Sender   Notifier
	Alerts   AlertChecker
	Sessions *session.Manager

	Interval  time.Duration
	FeedPause time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewScheduler wires a Scheduler; Alerts may be nil.
func NewScheduler(db database.Storer, fetcher *fetch.Fetcher, chain *reddit.Chain, rt *router.Router, sender Notifier, sessions *session.Manager) *Scheduler {
	return &Scheduler{
		DB:        db,
		Fetcher:   fetcher,
		Reddit:    chain,
		Router:    rt,
		Sender:    sender,
		Sessions:  sessions,
		Interval:  DefaultInterval,
		FeedPause: DefaultFeedPause,
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the tick loop and the secondary jobs.
func (s *Scheduler) Start() {
	log.WithField("interval", s.Interval).Info("Starting feed scheduler")
	s.wg.Add(3)
	go s.loop("feed_check", s.Interval, s.runTick)
	go s.loop("blocking_stats_check", statsCheckInterval, s.checkBlockingStats)
	go s.cleanupLoop()
}

// Stop terminates the loops and closes all domain sessions. Blocks until
// the loops have exited.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	if s.Sessions != nil {
		s.Sessions.CloseAll()
	}
	log.Info("Feed scheduler stopped")
}

// loop runs job every interval until Stop. A panicking job is logged and
// the loop keeps going; one bad cycle must not end polling.
func (s *Scheduler) loop(name string, interval time.Duration, job func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"job":   name,
					"panic": r,
				}).Errorf("Job panicked!\n%s", debug.Stack())
			}
		}()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		job(ctx)
	}

	run()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			run()
		}
	}
}

// cleanupLoop resets stale blocking stats once a day at 03:00 UTC.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()
	for {
		now := s.now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHourUTC, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			reset, err := s.DB.ResetOldStats(statsMaxAge)
			if err != nil {
				log.WithError(err).Error("Failed to reset old blocking stats")
			} else if reset > 0 {
				log.WithField("domains", reset).Info("Reset stale blocking stats")
			}
		}
	}
}

// runTick processes one scheduler tick: load enabled feeds, check the
// due ones sequentially, log a summary.
func (s *Scheduler) runTick(ctx context.Context) {
	feeds, err := s.DB.LoadEnabledFeeds()
	if err != nil {
		log.WithError(err).Error("Failed to load enabled feeds")
		return
	}
	if len(feeds) == 0 {
		return
	}

	now := s.now()
	var due []feed.Feed
	for _, f := range feeds {
		if f.Due(now) {
			due = append(due, f)
		}
	}

	checked, failed, notified := 0, 0, 0
	for i := range due {
		if ctx.Err() != nil {
			return
		}
		n, err := s.CheckFeed(ctx, &due[i])
		checked++
		notified += n
		if err != nil {
			failed++
			log.WithError(err).WithFields(log.Fields{
				"feed": due[i].Name,
				"url":  due[i].FetchURL(),
			}).Error("Feed check failed")
		}
		if i < len(due)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.FeedPause):
			}
		}
	}

	log.WithFields(log.Fields{
		"total":         len(feeds),
		"due":           len(due),
		"checked":       checked,
		"failed":        failed,
		"notifications": notified,
	}).Info("Feed check cycle completed")
}

// CheckFeed runs the full pipeline for one feed and returns how many
// notifications went out. Check bookkeeping is persisted after the
// notifications are attempted.
func (s *Scheduler) CheckFeed(ctx context.Context, f *feed.Feed) (int, error) {
	parsed, err := s.fetchFeed(ctx, f)
	now := s.now().UTC()
	if err != nil {
		f.Failures++
		if dbErr := s.DB.UpdateFeedCheck(f.ID, now, f.LastItemID, f.LastNotifiedAt, f.Failures); dbErr != nil {
			log.WithError(dbErr).WithField("feed", f.Name).Error("Failed to persist feed check")
		}
		return 0, err
	}

	result := delta.Compute(parsed, f.LastItemID, f.LastNotifiedAt)

	newLastItemID := f.LastItemID
	newLastNotifiedAt := f.LastNotifiedAt
	switch {
	case result.BaselineItemID != "":
		newLastItemID = result.BaselineItemID
		if result.BaselineTime != nil {
			newLastNotifiedAt = result.BaselineTime
		} else {
			newLastNotifiedAt = &now
		}
	case len(result.Items) > 0:
		newest := result.Items[0]
		newLastItemID = newest.ID
		if newest.Published != nil {
			newLastNotifiedAt = newest.Published
		} else {
			newLastNotifiedAt = &now
		}
	case result.FirstItemID != "":
		newLastItemID = result.FirstItemID
	}

	sent := s.notify(ctx, f, result.Items)

	f.Failures = 0
	f.LastItemID = newLastItemID
	f.LastNotifiedAt = newLastNotifiedAt
	f.LastCheck = &now
	if err := s.DB.UpdateFeedCheck(f.ID, now, newLastItemID, newLastNotifiedAt, 0); err != nil {
		log.WithError(err).WithField("feed", f.Name).Error("Failed to persist feed check")
	}
	return sent, nil
}

// fetchFeed routes the feed's URL and fetches it, through the Reddit
// chain when the URL names a subreddit.
func (s *Scheduler) fetchFeed(ctx context.Context, f *feed.Feed) (*feed.Parsed, error) {
	if f.CanonicalURL != "" {
		return s.Fetcher.Fetch(ctx, f.CanonicalURL)
	}
	route, err := s.Router.Canonicalize(ctx, f.URL)
	if err != nil {
		return nil, err
	}
	if route.Kind == router.KindReddit {
		return s.Reddit.Fetch(ctx, route.Subreddit)
	}
	return s.Fetcher.Fetch(ctx, route.URL)
}

// notify delivers the new items, newest first. HTML formatting is tried
// first and the plain rendering is the fallback; an item failing both is
// logged and skipped.
func (s *Scheduler) notify(ctx context.Context, f *feed.Feed, items []feed.Item) int {
	if len(items) == 0 {
		return 0
	}
	items = feed.ApplyFilters(items, f.Filters)

	now := s.now().UTC()
	sent := 0
	for _, item := range items {
		if f.MaxAgeMinutes > 0 && item.Published != nil {
			age := now.Sub(*item.Published)
			if age > time.Duration(f.MaxAgeMinutes)*time.Minute {
				log.WithFields(log.Fields{
					"feed": f.Name,
					"item": item.ID,
					"age":  age,
				}).Debug("Skipping item older than the feed's max age")
				continue
			}
		}

		err := s.Sender.Send(ctx, f.ChatID, format.Message(item, f.Name, true), telegram.ModeHTML)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"feed": f.Name,
				"item": item.ID,
			}).Warn("HTML notification failed, falling back to plain text")
			err = s.Sender.Send(ctx, f.ChatID, format.Message(item, f.Name, false), telegram.ModePlain)
		}
		if err != nil {
			metrics.IncrementNotification(metrics.StatusFailure)
			log.WithError(err).WithFields(log.Fields{
				"feed": f.Name,
				"item": item.ID,
			}).Error("Notification failed in both modes, skipping item")
			continue
		}
		metrics.IncrementNotification(metrics.StatusSuccess)
		sent++
	}
	return sent
}

// checkBlockingStats feeds the hourly low-success review to the alert
// manager.
func (s *Scheduler) checkBlockingStats(ctx context.Context) {
	if s.Alerts == nil {
		return
	}
	low, err := s.DB.LowSuccessDomains(lowSuccessLimit)
	if err != nil {
		log.WithError(err).Error("Failed to load low-success domains")
		return
	}
	for _, st := range low {
		s.Alerts.LowSuccess(st.Domain, st.SuccessRate(), st.TotalRequests)
	}
}
