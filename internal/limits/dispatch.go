package limits

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

const (
	CodeRateLimited     = "CALL_RATE_LIMIT_EXCEEDED"
	CodeDailyCostLimit  = "DAILY_COST_LIMIT_EXCEEDED"
	rateWindow          = time.Minute
	rateStateSweepEvery = 2 * time.Minute
)

type Config struct {
	CallsPerMinute   int
	MaxCostUSDPerDay float64
	// Location decides where "today" starts for the daily cost cap.
	Location *time.Location
}

// CostSummarizer is the slice of calls.CallStore the limiter reads.
type CostSummarizer interface {
	SummarizeCosts(ctx context.Context, filter calls.CostFilter) (*cost.Sums, error)
}

// Result describes a rejected dispatch.
type Result struct {
	Code              string
	Message           string
	RetryAfterSeconds int
}

// DispatchLimiter gates outbound call placement with a per-caller sliding
// one-minute window and a process-wide daily spend cap.
type DispatchLimiter struct {
	store CostSummarizer
	cfg   Config
	nowFn func() time.Time

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

func NewDispatchLimiter(store CostSummarizer, cfg Config) *DispatchLimiter {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &DispatchLimiter{
		store:    store,
		cfg:      cfg,
		nowFn:    time.Now,
		requests: map[string][]time.Time{},
	}
}

func (l *DispatchLimiter) Enabled() bool {
	return l != nil && (l.cfg.CallsPerMinute > 0 || l.cfg.MaxCostUSDPerDay > 0)
}

// Check returns a non-nil Result when caller may not place another call now.
// An accepted check reserves a slot in the caller's rate window so concurrent
// requests cannot overshoot it; call Release if the dispatch then fails.
func (l *DispatchLimiter) Check(ctx context.Context, caller string) (*Result, error) {
	if !l.Enabled() {
		return nil, nil
	}
	now := l.nowFn()
	if result, err := l.checkDailyCost(ctx, now); err != nil || result != nil {
		return result, err
	}
	return l.checkRate(strings.TrimSpace(caller), now), nil
}

func (l *DispatchLimiter) checkDailyCost(ctx context.Context, now time.Time) (*Result, error) {
	if l.cfg.MaxCostUSDPerDay <= 0 || l.store == nil {
		return nil, nil
	}
	from, _ := cost.WindowToday.Start(now, l.cfg.Location)
	sums, err := l.store.SummarizeCosts(ctx, calls.CostFilter{From: from})
	if err != nil {
		return nil, fmt.Errorf("summarize today's cost: %w", err)
	}
	if sums == nil || sums.TotalUSD < l.cfg.MaxCostUSDPerDay {
		return nil, nil
	}

	local := now.In(l.cfg.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.cfg.Location)
	return &Result{
		Code:              CodeDailyCostLimit,
		Message:           fmt.Sprintf("daily cost limit of $%.2f reached", l.cfg.MaxCostUSDPerDay),
		RetryAfterSeconds: ceilSeconds(midnight.Sub(now)),
	}, nil
}

func (l *DispatchLimiter) checkRate(caller string, now time.Time) *Result {
	if l.cfg.CallsPerMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeSweep(now)

	events := pruneOldRequests(l.requests[caller], now)
	if len(events) >= l.cfg.CallsPerMinute {
		l.requests[caller] = events
		return &Result{
			Code:              CodeRateLimited,
			Message:           "call rate limit exceeded",
			RetryAfterSeconds: ceilSeconds(events[0].Add(rateWindow).Sub(now)),
		}
	}
	l.requests[caller] = append(events, now)
	return nil
}

// Release returns the caller's most recent reserved slot. Only dispatches
// that reached the provider count toward calls_per_minute.
func (l *DispatchLimiter) Release(caller string) {
	if l == nil || l.cfg.CallsPerMinute <= 0 {
		return
	}
	caller = strings.TrimSpace(caller)

	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.requests[caller]
	if len(events) == 0 {
		return
	}
	if len(events) == 1 {
		delete(l.requests, caller)
		return
	}
	l.requests[caller] = events[:len(events)-1]
}

func (l *DispatchLimiter) maybeSweep(now time.Time) {
	if !l.lastSweep.IsZero() && now.Sub(l.lastSweep) < rateStateSweepEvery {
		return
	}
	for key, events := range l.requests {
		pruned := pruneOldRequests(events, now)
		if len(pruned) == 0 {
			delete(l.requests, key)
			continue
		}
		l.requests[key] = pruned
	}
	l.lastSweep = now
}

func pruneOldRequests(events []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	keep := 0
	for keep < len(events) && events[keep].Before(cutoff) {
		keep++
	}
	if keep >= len(events) {
		return nil
	}
	out := make([]time.Time, len(events)-keep)
	copy(out, events[keep:])
	return out
}

func ceilSeconds(d time.Duration) int {
	if d <= time.Second {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
