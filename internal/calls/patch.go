package calls

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

// UpdateRequest is a caller-supplied change to a call. Nil fields are left
// untouched.
type UpdateRequest struct {
	Status          *string `json:"status,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	DurationSeconds *int    `json:"duration,omitempty"`
}

// Patch is a validated update ready to be written in a single statement.
// When DurationSeconds is set, Cost is always set with it.
type Patch struct {
	Status          *Status
	Notes           *string
	DurationSeconds *int
	Cost            *cost.Breakdown
	// EndedAt is written only when the stored ended_at is still empty.
	EndedAt *time.Time
}

// NewPatch validates req and prices the duration, if any, exactly once.
func NewPatch(req UpdateRequest, cfg cost.Config, now time.Time) (Patch, error) {
	var patch Patch
	if req.Status != nil {
		status, err := ParseStatus(*req.Status)
		if err != nil {
			return Patch{}, err
		}
		patch.Status = &status
		if status.Terminal() {
			ended := now.UTC()
			patch.EndedAt = &ended
		}
	}
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		patch.Notes = &notes
	}
	if req.DurationSeconds != nil {
		seconds := *req.DurationSeconds
		if seconds < 0 {
			return Patch{}, fmt.Errorf("%w: %d", ErrInvalidDuration, seconds)
		}
		breakdown := ApplyDuration(Call{}, seconds, cfg).Cost()
		patch.DurationSeconds = &seconds
		patch.Cost = &breakdown
	}
	if patch.Empty() {
		return Patch{}, ErrEmptyUpdate
	}
	return patch, nil
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.Notes == nil && p.DurationSeconds == nil
}

// Apply returns call with the patch applied, using the same rules the stores
// use in SQL.
func (p Patch) Apply(call Call) Call {
	if p.Status != nil {
		call.Status = *p.Status
	}
	if p.Notes != nil {
		call.Notes = *p.Notes
	}
	if p.Cost != nil {
		call.SetCost(*p.Cost)
	} else if p.DurationSeconds != nil {
		call.DurationSeconds = *p.DurationSeconds
	}
	if p.EndedAt != nil && call.EndedAt == nil {
		ended := *p.EndedAt
		call.EndedAt = &ended
	}
	return call
}

// ApplyDuration records a duration on call and recomputes its cost fields.
// It is the only place a duration is priced.
func ApplyDuration(call Call, durationSeconds int, cfg cost.Config) Call {
	call.SetCost(cfg.Compute(durationSeconds))
	return call
}

// costArgs flattens the patch cost into column order: transport, stt, tts,
// llm, usd, inr. Missing cost yields NULLs.
func (p Patch) costArgs() []any {
	if p.Cost == nil {
		return []any{nil, nil, nil, nil, nil, nil}
	}
	c := p.Cost
	return []any{c.Transport, c.STT, c.TTS, c.LLM, c.TotalUSD, c.TotalINR}
}

func (p Patch) statusArg() any {
	if p.Status == nil {
		return nil
	}
	return string(*p.Status)
}

func (p Patch) notesArg() any {
	if p.Notes == nil {
		return nil
	}
	return *p.Notes
}

func (p Patch) durationArg() any {
	if p.DurationSeconds == nil {
		return nil
	}
	return *p.DurationSeconds
}

func (p Patch) endedAtArg() any {
	if p.EndedAt == nil {
		return nil
	}
	return p.EndedAt.UTC()
}
