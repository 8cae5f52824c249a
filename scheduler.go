package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var refreshJobHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "refresh_job_duration",
	Help:    "A histogram of refresh job durations",
	Buckets: prometheus.ExponentialBuckets(1, 2, 15),
}, []string{"outcome"})

var pendingJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "refresh_jobs_pending",
})

// Scheduler turns staleness signals into deduplicated background refresh
// work. At most one job per item is ever pending, enforced by an atomic
// check-and-mark on the pending set rather than any global lock around
// execution.
type Scheduler struct {
	db        *gorm.DB
	store     *CounterStore
	providers *ProviderClient

	pendingLk sync.Mutex
	pending   map[uint]bool
	delayed   map[uint]*time.Timer

	jobs chan uint
	done chan struct{}
	wg   sync.WaitGroup

	listenerLk sync.Mutex
	listeners  []RefreshListener
}

func NewScheduler(db *gorm.DB, store *CounterStore, providers *ProviderClient) *Scheduler {
	return &Scheduler{
		db:        db,
		store:     store,
		providers: providers,
		pending:   make(map[uint]bool),
		delayed:   make(map[uint]*time.Timer),
		jobs:      make(chan uint, 1024),
		done:      make(chan struct{}),
	}
}

// Start spawns the refresh workers that drain the job queue.
func (s *Scheduler) Start(workers int) {
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop shuts the workers down. In-flight jobs finish, queued jobs are
// dropped.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case id := <-s.jobs:
			s.runJob(id)
		}
	}
}

// runJob isolates one job execution: a failing or panicking refresh leaves
// the item stale and must never take down the worker.
func (s *Scheduler) runJob(id uint) {
	defer func() {
		if r := recover(); r != nil {
			s.clearPending(id)
			slog.Error("refresh job panicked", "item", id, "panic", r)
		}
	}()

	start := time.Now()
	if err := s.Execute(context.TODO(), id); err != nil {
		refreshJobHist.WithLabelValues("error").Observe(float64(time.Since(start).Milliseconds()))
		log.Warn("refresh job failed", "item", id, "error", err)
		return
	}
	refreshJobHist.WithLabelValues("ok").Observe(float64(time.Since(start).Milliseconds()))
}

func (s *Scheduler) markPending(id uint) bool {
	s.pendingLk.Lock()
	defer s.pendingLk.Unlock()
	if s.pending[id] {
		return false
	}
	s.pending[id] = true
	pendingJobsGauge.Inc()
	return true
}

func (s *Scheduler) clearPending(id uint) {
	s.pendingLk.Lock()
	defer s.pendingLk.Unlock()
	if s.pending[id] {
		delete(s.pending, id)
		pendingJobsGauge.Dec()
	}
	if t, ok := s.delayed[id]; ok {
		t.Stop()
		delete(s.delayed, id)
	}
}

// PendingCount reports how many items currently have a refresh in flight
// or queued.
func (s *Scheduler) PendingCount() int {
	s.pendingLk.Lock()
	defer s.pendingLk.Unlock()
	return len(s.pending)
}

func (s *Scheduler) submit(id uint) {
	select {
	case s.jobs <- id:
	case <-s.done:
		s.clearPending(id)
	}
}

func (s *Scheduler) scheduleAfter(id uint, delay time.Duration) {
	if delay <= 0 {
		s.submit(id)
		return
	}

	t := time.AfterFunc(delay, func() {
		s.pendingLk.Lock()
		delete(s.delayed, id)
		s.pendingLk.Unlock()
		s.submit(id)
	})

	s.pendingLk.Lock()
	s.delayed[id] = t
	s.pendingLk.Unlock()
}

// ItemViewed is the read-path trigger, invoked on every content view.
// Non-published items are ignored.
func (s *Scheduler) ItemViewed(ctx context.Context, itemID uint, status string) bool {
	if status != StatusPublished {
		return false
	}
	return s.RequestRefresh(ctx, itemID)
}

// RequestRefresh enqueues a background refresh for the item if its cached
// record has gone stale. It never blocks on network I/O and is idempotent
// within a staleness window. Returns false when no job was created.
func (s *Scheduler) RequestRefresh(ctx context.Context, itemID uint) bool {
	if itemID == 0 {
		return false
	}

	var item Item
	if err := s.db.WithContext(ctx).First(&item, itemID).Error; err != nil {
		return false
	}

	settings, err := loadSettings(s.db)
	if err != nil {
		slog.Warn("failed to load settings for refresh check", "item", itemID, "error", err)
		return false
	}

	last, err := s.store.LastUpdated(ctx, itemID)
	if err != nil {
		slog.Warn("failed to read last update time", "item", itemID, "error", err)
		return false
	}

	if !isStale(last, settings.TTL()) {
		return false
	}

	if !s.markPending(itemID) {
		return false
	}

	s.submit(itemID)
	return true
}

// Execute is the refresh job body. It pulls fresh counts from the enabled
// providers and writes them through the counter store. A provider counter
// is only written when positive so that a flaky zero response never
// clobbers a known-good count; the total is recomputed every cycle with
// zeros substituted for absent providers. The last-updated stamp is always
// written, even when every sub-fetch failed or was disabled, so a broken
// item is retried on the ttl and not on every read.
func (s *Scheduler) Execute(ctx context.Context, itemID uint) error {
	defer s.clearPending(itemID)

	var item Item
	if err := s.db.WithContext(ctx).First(&item, itemID).Error; err != nil {
		return fmt.Errorf("refresh requested for unknown item %d: %w", itemID, err)
	}

	settings, err := loadSettings(s.db)
	if err != nil {
		return err
	}

	counts := make(map[string]int64)

	if settings.EnableSocial {
		shares, err := s.providers.FetchShareCounts(ctx, item.Url)
		if err != nil {
			slog.Warn("share count fetch failed", "item", itemID, "error", err)
		}

		var total int64
		for _, name := range ShareProviders {
			v := shares[name]
			total += v
			counts[name] = v
			if v > 0 {
				if err := s.store.Set(ctx, itemID, name, v); err != nil {
					return err
				}
			}
		}

		if err := s.store.Set(ctx, itemID, MetricTotal, total); err != nil {
			return err
		}
		counts[MetricTotal] = total
	}

	if settings.EnableAnalytics {
		token, err := loadAnalyticsToken(s.db)
		if err != nil {
			return err
		}
		if token != "" {
			views, err := s.providers.FetchPageviews(ctx, item.Url, token)
			if err != nil {
				slog.Warn("pageview fetch failed", "item", itemID, "error", err)
			} else if views > 0 {
				if err := s.store.Set(ctx, itemID, MetricPageviews, views); err != nil {
					return err
				}
				counts[MetricPageviews] = views
			}
		}
	}

	if err := s.store.Touch(ctx, itemID, time.Now()); err != nil {
		return err
	}

	s.notifyRefreshed(itemID, counts)
	return nil
}

// BackfillEntry describes one job placed by ScheduleBackfill and how far
// in the future it will run.
type BackfillEntry struct {
	Item  uint          `json:"item"`
	RunIn time.Duration `json:"run_in"`
}

// ScheduleBackfill sweeps the corpus and schedules a refresh for every
// published item. Never-refreshed items go first, newest first, spaced 5s
// apart; items that already have a record follow at a more leisurely 30s
// spacing, continuing from the last offset used. The spacing keeps a bulk
// sweep from bursting the external APIs.
func (s *Scheduler) ScheduleBackfill(ctx context.Context) ([]BackfillEntry, error) {
	var cold []Item
	err := s.db.WithContext(ctx).Raw(`SELECT * FROM items
		WHERE status = ? AND id NOT IN (SELECT item FROM counters WHERE metric = ?)
		ORDER BY published DESC`, StatusPublished, MetricLastUpdated).Scan(&cold).Error
	if err != nil {
		return nil, err
	}

	var warm []Item
	err = s.db.WithContext(ctx).Raw(`SELECT * FROM items
		WHERE status = ? AND id IN (SELECT item FROM counters WHERE metric = ?)
		ORDER BY published DESC`, StatusPublished, MetricLastUpdated).Scan(&warm).Error
	if err != nil {
		return nil, err
	}

	var plan []BackfillEntry
	var next, last time.Duration

	for _, it := range cold {
		if !s.markPending(it.ID) {
			continue
		}
		s.scheduleAfter(it.ID, next)
		plan = append(plan, BackfillEntry{Item: it.ID, RunIn: next})
		last = next
		next += 5 * time.Second
	}

	// the warm group continues from the last offset used, not past it
	if len(plan) > 0 {
		next = last
	}

	for _, it := range warm {
		if !s.markPending(it.ID) {
			continue
		}
		s.scheduleAfter(it.ID, next)
		plan = append(plan, BackfillEntry{Item: it.ID, RunIn: next})
		next += 30 * time.Second
	}

	slog.Info("scheduled backfill", "cold", len(cold), "warm", len(warm), "jobs", len(plan))
	return plan, nil
}

// Teardown drops every pending and delayed job and wipes all persisted
// state, counters and settings included. Invoked once when the subsystem
// is being disabled.
func (s *Scheduler) Teardown(ctx context.Context) error {
	s.pendingLk.Lock()
	for id, t := range s.delayed {
		t.Stop()
		delete(s.delayed, id)
	}
	for id := range s.pending {
		delete(s.pending, id)
	}
	pendingJobsGauge.Set(0)
	s.pendingLk.Unlock()

drain:
	for {
		select {
		case <-s.jobs:
		default:
			break drain
		}
	}

	if err := s.store.Clear(ctx); err != nil {
		return err
	}

	return clearSettings(s.db)
}
