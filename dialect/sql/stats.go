package sql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// QueryStats holds statement execution statistics. It is safe for
// concurrent use by several drivers.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of failed statements.
	Errors atomic.Int64
	// Constraints is the count of failures caused by constraint violations.
	Constraints atomic.Int64

	mu            sync.RWMutex
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsOption configures QueryStats.
type StatsOption func(*QueryStats)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *QueryStats) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *QueryStats) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to l at warning level.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.WarnContext(ctx, "slow statement detected", "duration", duration, "query", query, "args", len(args))
	})
}

// NewQueryStats returns empty statistics.
//
// Example:
//
//	stats := sql.NewQueryStats(
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//	drv, _ := sql.Open(dialect.Postgres, "postgres", dsn, sql.WithStats(stats))
//	...
//	fmt.Println(stats.Stats())
func NewQueryStats(opts ...StatsOption) *QueryStats {
	s := &QueryStats{slowThreshold: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SlowThreshold returns the current slow statement threshold.
func (s *QueryStats) SlowThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (s *QueryStats) SetSlowThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = threshold
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
		Constraints:   s.Constraints.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
	s.Constraints.Store(0)
}

func (s *QueryStats) record(ctx context.Context, query string, args []any, duration time.Duration, err error, isQuery bool) {
	if isQuery {
		s.TotalQueries.Add(1)
	} else {
		s.TotalExecs.Add(1)
	}
	s.TotalDuration.Add(int64(duration))
	if err != nil {
		s.Errors.Add(1)
		if IsConstraintError(err) {
			s.Constraints.Add(1)
		}
	}
	s.mu.RLock()
	threshold := s.slowThreshold
	hook := s.slowHook
	s.mu.RUnlock()
	if duration > threshold {
		s.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	Constraints   int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d constraints=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Constraints,
	)
}
