package cost

import "github.com/shopspring/decimal"

// Breakdown is the priced result for one call. Values are rounded once, when
// the breakdown is built.
type Breakdown struct {
	DurationSeconds int     `json:"duration_seconds"`
	Minutes         float64 `json:"minutes"`
	Transport       float64 `json:"transport"`
	STT             float64 `json:"stt"`
	TTS             float64 `json:"tts"`
	LLM             float64 `json:"llm"`
	TotalUSD        float64 `json:"total_usd"`
	TotalINR        float64 `json:"total_inr"`
}

const (
	componentPlaces = 6
	usdPlaces       = 4
	inrPlaces       = 2
	minutePlaces    = 2
)

var sixty = decimal.NewFromInt(60)

// Compute prices a call. The LLM component is an estimate from
// AvgTokensPerCall and is charged in full even for zero-length calls.
// Callers reject negative durations before calling.
func Compute(durationSeconds int, prices PriceTable, rate float64) Breakdown {
	minutes := decimal.NewFromInt(int64(durationSeconds)).Div(sixty)

	transport := decimal.NewFromFloat(prices.TransportPerMinute).Mul(minutes)
	stt := decimal.NewFromFloat(prices.STTPerMinute).Mul(minutes)
	tts := decimal.NewFromFloat(prices.TTSPerMinute).Mul(minutes)
	llm := decimal.NewFromFloat(prices.AvgTokensPerCall).Mul(
		decimal.NewFromFloat(prices.LLMInputPerToken).Add(decimal.NewFromFloat(prices.LLMOutputPerToken)),
	)

	total := transport.Add(stt).Add(tts).Add(llm)
	return Breakdown{
		DurationSeconds: durationSeconds,
		Minutes:         round(minutes, minutePlaces),
		Transport:       round(transport, componentPlaces),
		STT:             round(stt, componentPlaces),
		TTS:             round(tts, componentPlaces),
		LLM:             round(llm, componentPlaces),
		TotalUSD:        round(total, usdPlaces),
		TotalINR:        round(total.Mul(decimal.NewFromFloat(rate)), inrPlaces),
	}
}

// LLMCost prices measured token usage, in USD rounded to six places.
func LLMCost(prices PriceTable, inputTokens, outputTokens int) float64 {
	in := decimal.NewFromInt(int64(inputTokens)).Mul(decimal.NewFromFloat(prices.LLMInputPerToken))
	out := decimal.NewFromInt(int64(outputTokens)).Mul(decimal.NewFromFloat(prices.LLMOutputPerToken))
	return round(in.Add(out), componentPlaces)
}

// Round rounds v half away from zero to the given number of places.
func Round(v float64, places int32) float64 {
	return round(decimal.NewFromFloat(v), places)
}

func round(d decimal.Decimal, places int32) float64 {
	return d.Round(places).InexactFloat64()
}
