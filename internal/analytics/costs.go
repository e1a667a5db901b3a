package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

type CostSummarizer interface {
	SummarizeCosts(ctx context.Context, filter calls.CostFilter) (*cost.Sums, error)
}

type CostService struct {
	store CostSummarizer
	cfg   cost.Config
	now   func() time.Time
}

func NewCostService(store CostSummarizer, cfg cost.Config) *CostService {
	return &CostService{store: store, cfg: cfg, now: time.Now}
}

func (s *CostService) Config() cost.Config {
	return s.cfg
}

// Window totals the calls created since the start of w.
func (s *CostService) Window(ctx context.Context, w cost.Window) (cost.Totals, error) {
	return s.window(ctx, w, s.now())
}

func (s *CostService) window(ctx context.Context, w cost.Window, now time.Time) (cost.Totals, error) {
	var filter calls.CostFilter
	if start, bounded := w.Start(now, s.cfg.Location); bounded {
		filter.From = start
	}
	sums, err := s.store.SummarizeCosts(ctx, filter)
	if err != nil {
		return cost.Totals{}, fmt.Errorf("summarize %s costs: %w", w, err)
	}
	if sums == nil {
		sums = &cost.Sums{}
	}
	totals := cost.TotalsFromSums(*sums, s.cfg.ExchangeRate)
	totals.Window = w
	return totals, nil
}

// Windows totals every window against the same instant. Queries run
// concurrently; the first error wins.
func (s *CostService) Windows(ctx context.Context) (map[cost.Window]cost.Totals, error) {
	now := s.now()
	windows := cost.Windows()

	results := make([]cost.Totals, len(windows))
	errs := make([]error, len(windows))
	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w cost.Window) {
			defer wg.Done()
			results[i], errs[i] = s.window(ctx, w, now)
		}(i, w)
	}
	wg.Wait()

	out := make(map[cost.Window]cost.Totals, len(windows))
	for i, w := range windows {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out[w] = results[i]
	}
	return out, nil
}
