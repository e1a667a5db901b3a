// Package calls stores outbound call records, contacts and transcripts and
// owns the rules for updating a call's lifecycle and cost.
package calls

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusDialing    Status = "dialing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// Statuses lists every known status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusInitiated, StatusDialing, StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer}
}

func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	status := Status(normalized)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusDialing, StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	}
	return false
}

// Terminal reports whether the status ends a call.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusNoAnswer
}

type Call struct {
	ID              int64      `json:"id"`
	PhoneNumber     string     `json:"phone_number"`
	RoomName        string     `json:"room_name"`
	DispatchID      string     `json:"dispatch_id"`
	Status          Status     `json:"status"`
	DurationSeconds int        `json:"duration"`
	Notes           string     `json:"notes"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at"`
	CostTransport   float64    `json:"cost_transport"`
	CostSTT         float64    `json:"cost_stt"`
	CostTTS         float64    `json:"cost_tts"`
	CostLLM         float64    `json:"cost_llm"`
	TotalCostUSD    float64    `json:"total_cost_usd"`
	TotalCostINR    float64    `json:"total_cost_inr"`
}

// SetCost copies a priced breakdown onto the record.
func (c *Call) SetCost(b cost.Breakdown) {
	c.DurationSeconds = b.DurationSeconds
	c.CostTransport = b.Transport
	c.CostSTT = b.STT
	c.CostTTS = b.TTS
	c.CostLLM = b.LLM
	c.TotalCostUSD = b.TotalUSD
	c.TotalCostINR = b.TotalINR
}

// Cost reads the stored breakdown back off the record.
func (c Call) Cost() cost.Breakdown {
	return cost.Breakdown{
		DurationSeconds: c.DurationSeconds,
		Minutes:         cost.Round(float64(c.DurationSeconds)/60, 2),
		Transport:       c.CostTransport,
		STT:             c.CostSTT,
		TTS:             c.CostTTS,
		LLM:             c.CostLLM,
		TotalUSD:        c.TotalCostUSD,
		TotalINR:        c.TotalCostINR,
	}
}

// Entry is the record as seen by cost aggregation.
func (c Call) Entry() cost.Entry {
	return cost.Entry{
		CreatedAt:       c.CreatedAt,
		DurationSeconds: c.DurationSeconds,
		Cost:            c.Cost(),
	}
}

type Contact struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	PhoneNumber string     `json:"phone_number"`
	Company     string     `json:"company"`
	Notes       string     `json:"notes"`
	Tags        string     `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	LastCalled  *time.Time `json:"last_called"`
}

type TranscriptEntry struct {
	ID        int64     `json:"id"`
	CallID    int64     `json:"call_id"`
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize trims contact fields and checks the required ones.
func (c *Contact) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	c.Company = strings.TrimSpace(c.Company)
	c.Notes = strings.TrimSpace(c.Notes)
	c.Tags = strings.TrimSpace(c.Tags)
	if c.Name == "" || c.PhoneNumber == "" {
		return ErrInvalidContact
	}
	return nil
}
