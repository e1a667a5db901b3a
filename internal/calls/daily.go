package calls

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

// DailyCount is one local calendar day of call activity.
type DailyCount struct {
	Date    string  `json:"date"`
	Count   int64   `json:"count"`
	CostUSD float64 `json:"cost_usd"`
}

// DailyCounts buckets entries into the last days local calendar days ending
// today, oldest first. Days without calls are present with zero values.
func DailyCounts(entries []cost.Entry, days int, now time.Time, loc *time.Location) []DailyCount {
	if days <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	out := make([]DailyCount, days)
	sums := make([]decimal.Decimal, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, i-days+1).Format(time.DateOnly)
		out[i].Date = date
		index[date] = i
	}
	for _, e := range entries {
		i, ok := index[e.CreatedAt.In(loc).Format(time.DateOnly)]
		if !ok {
			continue
		}
		out[i].Count++
		sums[i] = sums[i].Add(decimal.NewFromFloat(e.Cost.TotalUSD))
	}
	for i := range out {
		out[i].CostUSD = sums[i].Round(4).InexactFloat64()
	}
	return out
}

// DailyWindowStart is the UTC instant at which a days-long DailyCounts
// range begins.
func DailyWindowStart(days int, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, 1-days).UTC()
}
