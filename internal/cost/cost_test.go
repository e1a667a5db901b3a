package cost

import (
	"math"
	"testing"
	"time"
)

func TestComputeTwoMinuteCall(t *testing.T) {
	t.Parallel()

	got := Compute(120, DefaultPriceTable(), DefaultExchangeRate)
	want := Breakdown{
		DurationSeconds: 120,
		Minutes:         2,
		Transport:       0.02,
		STT:             0.0118,
		TTS:             0.054,
		LLM:             0.00276,
		TotalUSD:        0.0886,
		TotalINR:        7.35,
	}
	if got != want {
		t.Fatalf("Compute(120)=%+v, want %+v", got, want)
	}
}

func TestComputeZeroDurationChargesLLMEstimate(t *testing.T) {
	t.Parallel()

	got := Compute(0, DefaultPriceTable(), DefaultExchangeRate)
	if got.Transport != 0 || got.STT != 0 || got.TTS != 0 {
		t.Fatalf("duration components=%+v, want zeros", got)
	}
	if got.LLM != 0.00276 {
		t.Fatalf("llm=%v, want 0.00276", got.LLM)
	}
	if got.TotalUSD != 0.0028 {
		t.Fatalf("total_usd=%v, want 0.0028", got.TotalUSD)
	}
	if got.TotalINR != 0.23 {
		t.Fatalf("total_inr=%v, want 0.23", got.TotalINR)
	}
}

func TestComputeFractionalMinutes(t *testing.T) {
	t.Parallel()

	got := Compute(45, DefaultPriceTable(), DefaultExchangeRate)
	if got.Minutes != 0.75 {
		t.Fatalf("minutes=%v, want 0.75", got.Minutes)
	}
	if got.Transport != 0.0075 {
		t.Fatalf("transport=%v, want 0.0075", got.Transport)
	}
	if got.TTS != 0.02025 {
		t.Fatalf("tts=%v, want 0.02025", got.TTS)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	prices := DefaultPriceTable()
	first := Compute(317, prices, 90.5)
	for i := 0; i < 20; i++ {
		if got := Compute(317, prices, 90.5); got != first {
			t.Fatalf("run %d=%+v, want %+v", i, got, first)
		}
	}
}

func TestComputeMissingPricesContributeZero(t *testing.T) {
	t.Parallel()

	got := Compute(600, PriceTable{TransportPerMinute: 0.01}, 1)
	if got.Transport != 0.1 || got.STT != 0 || got.TTS != 0 || got.LLM != 0 {
		t.Fatalf("breakdown=%+v, want transport only", got)
	}
	if got.TotalUSD != 0.1 || got.TotalINR != 0.1 {
		t.Fatalf("totals=%v/%v, want 0.1/0.1", got.TotalUSD, got.TotalINR)
	}
}

func TestLLMCost(t *testing.T) {
	t.Parallel()

	got := LLMCost(DefaultPriceTable(), 1000, 500)
	if got != 0.000985 {
		t.Fatalf("LLMCost=%v, want 0.000985", got)
	}
}

func TestPriceTableValidateRejectsNegative(t *testing.T) {
	t.Parallel()

	prices := DefaultPriceTable()
	prices.TTSPerMinute = -1
	if err := prices.Validate(); err == nil {
		t.Fatal("Validate() error=nil, want error")
	}
	cfg := DefaultConfig()
	cfg.ExchangeRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Config.Validate() error=nil, want error for zero rate")
	}
}

func TestWindowStart(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, loc)

	start, ok := WindowToday.Start(now, loc)
	if !ok {
		t.Fatal("today should be bounded")
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, loc).UTC(); !start.Equal(want) {
		t.Fatalf("today start=%v, want %v", start, want)
	}
	if start.Location() != time.UTC {
		t.Fatalf("start location=%v, want UTC", start.Location())
	}

	week, _ := WindowLast7Days.Start(now, loc)
	if want := time.Date(2026, 3, 3, 0, 0, 0, 0, loc); !week.Equal(want) {
		t.Fatalf("last_7_days start=%v, want %v", week, want)
	}
	month, _ := WindowLast30Days.Start(now, loc)
	if want := time.Date(2026, 2, 8, 0, 0, 0, 0, loc); !month.Equal(want) {
		t.Fatalf("last_30_days start=%v, want %v", month, want)
	}
	if _, ok := WindowAllTime.Start(now, loc); ok {
		t.Fatal("all_time should be unbounded")
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	got := Aggregate(nil, WindowToday, time.Now(), time.UTC, DefaultExchangeRate)
	if got.Calls != 0 || got.TotalUSD != 0 || got.TotalINR != 0 || got.Minutes != 0 {
		t.Fatalf("Aggregate(nil)=%+v, want zeros", got)
	}
	if got.CostPerMinuteUSD != 0 {
		t.Fatalf("cost_per_minute_usd=%v, want 0", got.CostPerMinuteUSD)
	}
}

func TestAggregateWindowsFilterAndSumExactly(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)
	prices := DefaultPriceTable()
	entry := func(at time.Time, seconds int) Entry {
		return Entry{CreatedAt: at, DurationSeconds: seconds, Cost: Compute(seconds, prices, DefaultExchangeRate)}
	}
	entries := []Entry{
		entry(now.Add(-2*time.Hour), 120),
		entry(now.Add(-3*time.Hour), 120),
		entry(now.AddDate(0, 0, -3), 60),
		entry(now.AddDate(0, 0, -20), 30),
		entry(now.AddDate(0, 0, -90), 600),
	}

	today := Aggregate(entries, WindowToday, now, time.UTC, DefaultExchangeRate)
	if today.Calls != 2 {
		t.Fatalf("today calls=%d, want 2", today.Calls)
	}
	if today.TotalUSD != 0.1772 {
		t.Fatalf("today usd=%v, want 0.1772", today.TotalUSD)
	}
	if today.TotalINR != 14.7 {
		t.Fatalf("today inr=%v, want 14.7", today.TotalINR)
	}
	if today.Minutes != 4 {
		t.Fatalf("today minutes=%v, want 4", today.Minutes)
	}
	if today.CostPerMinuteUSD != 0.0443 {
		t.Fatalf("today cost_per_minute_usd=%v, want 0.0443", today.CostPerMinuteUSD)
	}

	if got := Aggregate(entries, WindowLast7Days, now, time.UTC, DefaultExchangeRate).Calls; got != 3 {
		t.Fatalf("last_7_days calls=%d, want 3", got)
	}
	if got := Aggregate(entries, WindowLast30Days, now, time.UTC, DefaultExchangeRate).Calls; got != 4 {
		t.Fatalf("last_30_days calls=%d, want 4", got)
	}

	all := Aggregate(entries, WindowAllTime, now, time.UTC, DefaultExchangeRate)
	if all.Calls != 5 {
		t.Fatalf("all_time calls=%d, want 5", all.Calls)
	}
	var wantUSD float64
	for _, e := range entries {
		wantUSD += e.Cost.TotalUSD
	}
	if all.TotalUSD != Round(wantUSD, 4) {
		t.Fatalf("all_time usd=%v, want %v", all.TotalUSD, Round(wantUSD, 4))
	}
}

func TestAggregateZeroDurationHasNoPerMinuteCost(t *testing.T) {
	t.Parallel()

	now := time.Now()
	entries := []Entry{{CreatedAt: now, Cost: Compute(0, DefaultPriceTable(), DefaultExchangeRate)}}
	got := Aggregate(entries, WindowAllTime, now, time.UTC, DefaultExchangeRate)
	if got.TotalUSD == 0 {
		t.Fatal("total_usd=0, want llm estimate")
	}
	if got.CostPerMinuteUSD != 0 || got.CostPerMinuteINR != 0 {
		t.Fatalf("per-minute=%v/%v, want 0/0", got.CostPerMinuteUSD, got.CostPerMinuteINR)
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()

	cases := map[string]Window{
		"today":        WindowToday,
		"WEEK":         WindowLast7Days,
		"last_30_days": WindowLast30Days,
		"":             WindowAllTime,
	}
	for raw, want := range cases {
		got, err := ParseWindow(raw)
		if err != nil || got != want {
			t.Fatalf("ParseWindow(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseWindow("fortnight"); err == nil {
		t.Fatal("ParseWindow(fortnight) error=nil, want error")
	}
}

func TestComputeDurationComponentsScaleLinearly(t *testing.T) {
	t.Parallel()

	// Each side is rounded to six places once, so c(2d) and 2*c(d) may
	// differ by up to 1.5e-6.
	const tolerance = 2e-6

	prices := DefaultPriceTable()
	for _, seconds := range []int{0, 1, 45, 61, 120, 3599} {
		single := Compute(seconds, prices, DefaultExchangeRate)
		double := Compute(2*seconds, prices, DefaultExchangeRate)

		components := []struct {
			name          string
			single, twice float64
		}{
			{name: "transport", single: single.Transport, twice: double.Transport},
			{name: "stt", single: single.STT, twice: double.STT},
			{name: "tts", single: single.TTS, twice: double.TTS},
		}
		for _, c := range components {
			if diff := math.Abs(c.twice - 2*c.single); diff > tolerance {
				t.Fatalf("d=%d %s: c(2d)=%v, 2*c(d)=%v, diff %v", seconds, c.name, c.twice, 2*c.single, diff)
			}
		}
		if double.LLM != single.LLM {
			t.Fatalf("d=%d llm: %v vs %v, want duration-independent", seconds, double.LLM, single.LLM)
		}
	}
}
