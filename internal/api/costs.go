package api

import (
	"net/http"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

var costTips = []string{
	"Use shorter prompts to reduce LLM token costs",
	"Upgrade to Deepgram Growth Plan for 15% discount",
	"Keep calls concise, every minute costs about $0.045",
	"Use Nova-2 instead of Nova-3 for STT to save 25%",
}

type costBreakdownResponse struct {
	LiveKitSIP  float64 `json:"livekit_sip"`
	DeepgramSTT float64 `json:"deepgram_stt"`
	DeepgramTTS float64 `json:"deepgram_tts"`
	GroqLLM     float64 `json:"groq_llm"`
}

type costTotalsResponse struct {
	USD              float64 `json:"usd"`
	INR              float64 `json:"inr"`
	Minutes          float64 `json:"minutes"`
	CostPerMinuteUSD float64 `json:"cost_per_minute_usd"`
	CostPerMinuteINR float64 `json:"cost_per_minute_inr"`
}

type costWindowResponse struct {
	USD   float64 `json:"usd"`
	INR   float64 `json:"inr"`
	Calls int64   `json:"calls"`
}

type costsResponse struct {
	Breakdown costBreakdownResponse `json:"breakdown"`
	Totals    costTotalsResponse    `json:"totals"`
	Today     costWindowResponse    `json:"today"`
	Week      costWindowResponse    `json:"week"`
	Month     costWindowResponse    `json:"month"`
	Pricing   cost.PriceTable       `json:"pricing"`
	USDToINR  float64               `json:"usd_to_inr"`
	Timezone  string                `json:"timezone"`
	Tips      []string              `json:"tips"`
}

type analyticsResponse struct {
	TotalCalls    int64                  `json:"total_calls"`
	TodayCalls    int64                  `json:"today_calls"`
	WeekCalls     int64                  `json:"week_calls"`
	MonthCalls    int64                  `json:"month_calls"`
	StatusCounts  map[calls.Status]int64 `json:"status_counts"`
	DailyCalls    []calls.DailyCount     `json:"daily_calls"`
	TotalContacts int64                  `json:"total_contacts"`
	TodayCostUSD  float64                `json:"today_cost_usd"`
	TodayCostINR  float64                `json:"today_cost_inr"`
	WeekCostUSD   float64                `json:"week_cost_usd"`
	WeekCostINR   float64                `json:"week_cost_inr"`
	MonthCostUSD  float64                `json:"month_cost_usd"`
	MonthCostINR  float64                `json:"month_cost_inr"`
	TotalCostUSD  float64                `json:"total_cost_usd"`
	TotalCostINR  float64                `json:"total_cost_inr"`
	Pricing       cost.PriceTable        `json:"pricing"`
	USDToINR      float64                `json:"usd_to_inr"`
}

func (s *server) costsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if !s.requireStore(w) {
			return
		}

		windows, err := s.costs.Windows(r.Context())
		if err != nil {
			s.internalError(w, r, "summarize costs failed", err)
			return
		}
		all := windows[cost.WindowAllTime]

		writeJSON(w, http.StatusOK, costsResponse{
			Breakdown: costBreakdownResponse{
				LiveKitSIP:  cost.Round(all.Transport, 4),
				DeepgramSTT: cost.Round(all.STT, 4),
				DeepgramTTS: cost.Round(all.TTS, 4),
				GroqLLM:     cost.Round(all.LLM, 4),
			},
			Totals: costTotalsResponse{
				USD:              all.TotalUSD,
				INR:              all.TotalINR,
				Minutes:          all.Minutes,
				CostPerMinuteUSD: all.CostPerMinuteUSD,
				CostPerMinuteINR: all.CostPerMinuteINR,
			},
			Today:    windowResponse(windows[cost.WindowToday]),
			Week:     windowResponse(windows[cost.WindowLast7Days]),
			Month:    windowResponse(windows[cost.WindowLast30Days]),
			Pricing:  s.options.Pricing.Prices,
			USDToINR: s.options.Pricing.ExchangeRate,
			Timezone: s.options.Pricing.Location.String(),
			Tips:     costTips,
		})
	})
}

func windowResponse(t cost.Totals) costWindowResponse {
	return costWindowResponse{USD: t.TotalUSD, INR: t.TotalINR, Calls: t.Calls}
}

func (s *server) analyticsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if !s.requireStore(w) {
			return
		}

		overview, err := s.overview.Overview(r.Context())
		if err != nil {
			s.internalError(w, r, "build analytics overview failed", err)
			return
		}
		today := overview.Costs[cost.WindowToday]
		week := overview.Costs[cost.WindowLast7Days]
		month := overview.Costs[cost.WindowLast30Days]
		all := overview.Costs[cost.WindowAllTime]

		statusCounts := overview.StatusCounts
		if statusCounts == nil {
			statusCounts = map[calls.Status]int64{}
		}

		writeJSON(w, http.StatusOK, analyticsResponse{
			TotalCalls:    overview.TotalCalls,
			TodayCalls:    overview.TodayCalls,
			WeekCalls:     overview.WeekCalls,
			MonthCalls:    overview.MonthCalls,
			StatusCounts:  statusCounts,
			DailyCalls:    overview.DailyCalls,
			TotalContacts: overview.TotalContacts,
			TodayCostUSD:  today.TotalUSD,
			TodayCostINR:  today.TotalINR,
			WeekCostUSD:   week.TotalUSD,
			WeekCostINR:   week.TotalINR,
			MonthCostUSD:  month.TotalUSD,
			MonthCostINR:  month.TotalINR,
			TotalCostUSD:  all.TotalUSD,
			TotalCostINR:  all.TotalINR,
			Pricing:       s.options.Pricing.Prices,
			USDToINR:      s.options.Pricing.ExchangeRate,
		})
	})
}
