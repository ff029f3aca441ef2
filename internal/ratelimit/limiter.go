package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQuotas = []byte("print_quotas")

// Level is the scope a quota applies to
type Level string

const (
	LevelGlobal       Level = "global"
	LevelOrganization Level = "organization"
	LevelIP           Level = "ip"
)

// Config contains quota configuration. Nil limits are not enforced.
type Config struct {
	Global              *LimitConfig
	DefaultOrganization *LimitConfig
	DefaultIP           *LimitConfig

	// Persistence settings
	FlushInterval time.Duration
}

// LimitConfig caps rendered mail pieces. Zero means unlimited.
type LimitConfig struct {
	PiecesPerHour int `json:"pieces_per_hour"`
	PiecesPerDay  int `json:"pieces_per_day"`
}

// Counter tracks one quota window pair
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces print quotas. Counters live in memory and are flushed
// to bbolt periodically and on Stop.
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.RWMutex
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLimiter creates a limiter and loads persisted counters
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuotas)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Request identifies who is asking to print
type Request struct {
	OrgID string
	IP    string
}

// Result is the outcome of a quota check
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	Remaining  int // pieces left in the tightest window, -1 when unlimited
	RetryAfter time.Duration
}

// Stats is a snapshot of one counter
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
	HourStart   time.Time
	DayStart    time.Time
}

// AllowN reserves n pieces against every applicable quota. Either all
// counters are charged or none are.
func (l *Limiter) AllowN(ctx context.Context, req *Request, n int) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpired(counter, now)
	}

	res := l.evaluate(checks, n, now, func(key string) (int, int) {
		c := l.counters[key]
		return c.HourlyCount, c.DailyCount
	})
	if !res.Allowed {
		return res, nil
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount += n
		counter.DailyCount += n
	}
	if res.Remaining > 0 {
		res.Remaining -= n
	}
	return res, nil
}

// Check reports whether n pieces would be allowed without charging them
func (l *Limiter) Check(ctx context.Context, req *Request, n int) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	return l.evaluate(l.getChecks(req), n, now, func(key string) (int, int) {
		c, ok := l.counters[key]
		if !ok {
			return 0, 0
		}
		hourly, daily := c.HourlyCount, c.DailyCount
		if now.Sub(c.HourStart) >= time.Hour {
			hourly = 0
		}
		if now.Sub(c.DayStart) >= 24*time.Hour {
			daily = 0
		}
		return hourly, daily
	}), nil
}

func (l *Limiter) evaluate(checks []limitCheck, n int, now time.Time, counts func(string) (int, int)) *Result {
	res := &Result{Allowed: true, Remaining: -1}

	for _, check := range checks {
		hourly, daily := counts(check.key)
		c := l.counters[check.key]

		if limit := check.limit.PiecesPerHour; limit > 0 {
			if hourly+n > limit {
				return denied(check, limit-hourly, windowEnd(c, now, time.Hour), now)
			}
			res.Remaining = tighter(res.Remaining, limit-hourly)
		}
		if limit := check.limit.PiecesPerDay; limit > 0 {
			if daily+n > limit {
				return denied(check, limit-daily, windowEnd(c, now, 24*time.Hour), now)
			}
			res.Remaining = tighter(res.Remaining, limit-daily)
		}
	}
	return res
}

func denied(check limitCheck, remaining int, end, now time.Time) *Result {
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:    false,
		DeniedBy:   check.level,
		DeniedKey:  check.key,
		Remaining:  remaining,
		RetryAfter: end.Sub(now),
	}
}

func windowEnd(c *Counter, now time.Time, window time.Duration) time.Time {
	if c == nil {
		return now.Add(window)
	}
	start := c.HourStart
	if window != time.Hour {
		start = c.DayStart
	}
	if now.Sub(start) >= window {
		return now.Add(window)
	}
	return start.Add(window)
}

func tighter(current, candidate int) int {
	if current < 0 || candidate < current {
		return candidate
	}
	return current
}

// GetStats returns the counter for one scope
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{Level: level, Key: key}
	counter, exists := l.counters[makeKey(level, key)]
	if !exists {
		return stats, nil
	}

	now := l.now()
	stats.HourlyCount = counter.HourlyCount
	stats.DailyCount = counter.DailyCount
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart
	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}
	return stats, nil
}

// Stop stops the flush loop and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}
	if req.OrgID != "" && l.config.DefaultOrganization != nil {
		checks = append(checks, limitCheck{
			level: LevelOrganization,
			key:   makeKey(LevelOrganization, req.OrgID),
			limit: l.config.DefaultOrganization,
		})
	}
	if req.IP != "" && l.config.DefaultIP != nil {
		checks = append(checks, limitCheck{
			level: LevelIP,
			key:   makeKey(LevelIP, req.IP),
			limit: l.config.DefaultIP,
		})
	}

	return checks
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			_ = l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
