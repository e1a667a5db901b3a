package cost

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Window names a reporting period ending now.
type Window string

const (
	WindowToday      Window = "today"
	WindowLast7Days  Window = "last_7_days"
	WindowLast30Days Window = "last_30_days"
	WindowAllTime    Window = "all_time"
)

// Windows lists every window in display order.
func Windows() []Window {
	return []Window{WindowToday, WindowLast7Days, WindowLast30Days, WindowAllTime}
}

func ParseWindow(raw string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(raw))); w {
	case WindowToday, WindowLast7Days, WindowLast30Days, WindowAllTime:
		return w, nil
	case "week":
		return WindowLast7Days, nil
	case "month":
		return WindowLast30Days, nil
	case "", "all":
		return WindowAllTime, nil
	default:
		return "", fmt.Errorf("unknown window %q", raw)
	}
}

// Start returns the inclusive lower bound of the window in UTC. Day
// boundaries are taken in loc. The second result is false for all_time.
func (w Window) Start(now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch w {
	case WindowToday:
		return startOfDay.UTC(), true
	case WindowLast7Days:
		return startOfDay.AddDate(0, 0, -7).UTC(), true
	case WindowLast30Days:
		return startOfDay.AddDate(0, 0, -30).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Contains reports whether a record created at t falls in the window.
func (w Window) Contains(t, now time.Time, loc *time.Location) bool {
	start, bounded := w.Start(now, loc)
	if !bounded {
		return true
	}
	return !t.Before(start)
}

// Entry is the part of a priced call record that aggregation reads.
type Entry struct {
	CreatedAt       time.Time
	DurationSeconds int
	Cost            Breakdown
}

// Sums are raw per-window sums of stored call values.
type Sums struct {
	Calls           int64
	DurationSeconds int64
	Transport       float64
	STT             float64
	TTS             float64
	LLM             float64
	TotalUSD        float64
	TotalINR        float64
}

// Totals is an aggregated window.
type Totals struct {
	Window           Window  `json:"window,omitempty"`
	Calls            int64   `json:"calls"`
	DurationSeconds  int64   `json:"duration_seconds"`
	Minutes          float64 `json:"minutes"`
	Transport        float64 `json:"transport"`
	STT              float64 `json:"stt"`
	TTS              float64 `json:"tts"`
	LLM              float64 `json:"llm"`
	TotalUSD         float64 `json:"total_usd"`
	TotalINR         float64 `json:"total_inr"`
	CostPerMinuteUSD float64 `json:"cost_per_minute_usd"`
	CostPerMinuteINR float64 `json:"cost_per_minute_inr"`
}

// Aggregate sums the entries that fall in w. It never mutates entries.
func Aggregate(entries []Entry, w Window, now time.Time, loc *time.Location, rate float64) Totals {
	var calls, duration int64
	var transport, stt, tts, llm, totalUSD, totalINR decimal.Decimal
	for _, e := range entries {
		if !w.Contains(e.CreatedAt, now, loc) {
			continue
		}
		calls++
		duration += int64(e.DurationSeconds)
		transport = transport.Add(decimal.NewFromFloat(e.Cost.Transport))
		stt = stt.Add(decimal.NewFromFloat(e.Cost.STT))
		tts = tts.Add(decimal.NewFromFloat(e.Cost.TTS))
		llm = llm.Add(decimal.NewFromFloat(e.Cost.LLM))
		totalUSD = totalUSD.Add(decimal.NewFromFloat(e.Cost.TotalUSD))
		totalINR = totalINR.Add(decimal.NewFromFloat(e.Cost.TotalINR))
	}
	totals := TotalsFromSums(Sums{
		Calls:           calls,
		DurationSeconds: duration,
		Transport:       transport.InexactFloat64(),
		STT:             stt.InexactFloat64(),
		TTS:             tts.InexactFloat64(),
		LLM:             llm.InexactFloat64(),
		TotalUSD:        totalUSD.InexactFloat64(),
		TotalINR:        totalINR.InexactFloat64(),
	}, rate)
	totals.Window = w
	return totals
}

// TotalsFromSums finalizes raw sums. Stored values carry at most six, four and
// two decimal places, so rounding to those places removes any float drift
// introduced by a database SUM.
func TotalsFromSums(s Sums, rate float64) Totals {
	minutes := decimal.NewFromInt(s.DurationSeconds).Div(sixty)
	totalUSD := decimal.NewFromFloat(s.TotalUSD).Round(usdPlaces)

	totals := Totals{
		Calls:           s.Calls,
		DurationSeconds: s.DurationSeconds,
		Minutes:         round(minutes, minutePlaces),
		Transport:       Round(s.Transport, componentPlaces),
		STT:             Round(s.STT, componentPlaces),
		TTS:             Round(s.TTS, componentPlaces),
		LLM:             Round(s.LLM, componentPlaces),
		TotalUSD:        totalUSD.InexactFloat64(),
		TotalINR:        Round(s.TotalINR, inrPlaces),
	}
	if minutes.IsPositive() {
		perMinute := totalUSD.Div(minutes)
		totals.CostPerMinuteUSD = round(perMinute, usdPlaces)
		totals.CostPerMinuteINR = round(perMinute.Mul(decimal.NewFromFloat(rate)), inrPlaces)
	}
	return totals
}
