// Package analytics answers dashboard and report queries over stored calls.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

const overviewDays = 7

type OverviewStore interface {
	CountByStatus(ctx context.Context) (map[calls.Status]int64, error)
	CostEntriesSince(ctx context.Context, from time.Time) ([]cost.Entry, error)
	CountContacts(ctx context.Context) (int64, error)
}

type CallService struct {
	store OverviewStore
	costs *CostService
	now   func() time.Time
}

func NewCallService(store OverviewStore, costs *CostService) *CallService {
	return &CallService{store: store, costs: costs, now: time.Now}
}

// Overview is the dashboard summary of call activity.
type Overview struct {
	TotalCalls    int64                       `json:"total_calls"`
	TodayCalls    int64                       `json:"today_calls"`
	WeekCalls     int64                       `json:"week_calls"`
	MonthCalls    int64                       `json:"month_calls"`
	StatusCounts  map[calls.Status]int64      `json:"status_counts"`
	DailyCalls    []calls.DailyCount          `json:"daily_calls"`
	TotalContacts int64                       `json:"total_contacts"`
	Costs         map[cost.Window]cost.Totals `json:"-"`
}

func (s *CallService) Overview(ctx context.Context) (*Overview, error) {
	windows, err := s.costs.Windows(ctx)
	if err != nil {
		return nil, err
	}
	statusCounts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count calls by status: %w", err)
	}
	contacts, err := s.store.CountContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count contacts: %w", err)
	}

	now := s.now()
	loc := s.costs.Config().Location
	entries, err := s.store.CostEntriesSince(ctx, calls.DailyWindowStart(overviewDays, now, loc))
	if err != nil {
		return nil, fmt.Errorf("load daily entries: %w", err)
	}

	return &Overview{
		TotalCalls:    windows[cost.WindowAllTime].Calls,
		TodayCalls:    windows[cost.WindowToday].Calls,
		WeekCalls:     windows[cost.WindowLast7Days].Calls,
		MonthCalls:    windows[cost.WindowLast30Days].Calls,
		StatusCounts:  statusCounts,
		DailyCalls:    calls.DailyCounts(entries, overviewDays, now, loc),
		TotalContacts: contacts,
		Costs:         windows,
	}, nil
}
