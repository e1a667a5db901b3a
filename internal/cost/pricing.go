// Package cost prices calls from their duration and aggregates priced calls
// into reporting windows.
package cost

import (
	"errors"
	"fmt"
	"time"
)

// PriceTable holds per-unit prices in the source currency (USD).
type PriceTable struct {
	TransportPerMinute float64 `json:"transport_per_minute" yaml:"transport_per_minute"`
	STTPerMinute       float64 `json:"stt_per_minute" yaml:"stt_per_minute"`
	TTSPerMinute       float64 `json:"tts_per_minute" yaml:"tts_per_minute"`
	LLMInputPerToken   float64 `json:"llm_input_per_token" yaml:"llm_input_per_token"`
	LLMOutputPerToken  float64 `json:"llm_output_per_token" yaml:"llm_output_per_token"`
	AvgTokensPerCall   float64 `json:"avg_tokens_per_call" yaml:"avg_tokens_per_call"`
}

// DefaultPriceTable returns LiveKit SIP, Deepgram and Groq list prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		TransportPerMinute: 0.010,
		STTPerMinute:       0.0059,
		TTSPerMinute:       0.027,
		LLMInputPerToken:   0.00000059,
		LLMOutputPerToken:  0.00000079,
		AvgTokensPerCall:   2000,
	}
}

const DefaultExchangeRate = 83.0

func (p PriceTable) Validate() error {
	var errs []error
	check := func(name string, value float64) {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0 (got %v)", name, value))
		}
	}
	check("transport_per_minute", p.TransportPerMinute)
	check("stt_per_minute", p.STTPerMinute)
	check("tts_per_minute", p.TTSPerMinute)
	check("llm_input_per_token", p.LLMInputPerToken)
	check("llm_output_per_token", p.LLMOutputPerToken)
	check("avg_tokens_per_call", p.AvgTokensPerCall)
	return errors.Join(errs...)
}

// Config is the pricing context shared by everything that computes or
// reports cost. It is built once at startup.
type Config struct {
	Prices       PriceTable
	ExchangeRate float64
	Location     *time.Location
}

// DefaultConfig uses the default price table and the local timezone.
func DefaultConfig() Config {
	return Config{
		Prices:       DefaultPriceTable(),
		ExchangeRate: DefaultExchangeRate,
		Location:     time.Local,
	}
}

func (c Config) Validate() error {
	if err := c.Prices.Validate(); err != nil {
		return err
	}
	if c.ExchangeRate <= 0 {
		return fmt.Errorf("exchange rate must be > 0 (got %v)", c.ExchangeRate)
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Compute prices a call of the given duration with this config.
func (c Config) Compute(durationSeconds int) Breakdown {
	return Compute(durationSeconds, c.Prices, c.ExchangeRate)
}
