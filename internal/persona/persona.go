// Package persona stores the voice agent's prompt and greetings as a YAML
// document the agent worker reads at call start.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid persona")

type Persona struct {
	SystemPrompt     string    `yaml:"system_prompt" json:"system_prompt"`
	InitialGreeting  string    `yaml:"initial_greeting" json:"initial_greeting"`
	FallbackGreeting string    `yaml:"fallback_greeting" json:"fallback_greeting"`
	UpdatedAt        time.Time `yaml:"updated_at,omitempty" json:"updated_at"`
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	SystemPrompt     *string `json:"system_prompt"`
	InitialGreeting  *string `json:"initial_greeting"`
	FallbackGreeting *string `json:"fallback_greeting"`
}

func (p Patch) Empty() bool {
	return p.SystemPrompt == nil && p.InitialGreeting == nil && p.FallbackGreeting == nil
}

func (p Patch) Apply(base Persona) Persona {
	if p.SystemPrompt != nil {
		base.SystemPrompt = strings.TrimSpace(*p.SystemPrompt)
	}
	if p.InitialGreeting != nil {
		base.InitialGreeting = strings.TrimSpace(*p.InitialGreeting)
	}
	if p.FallbackGreeting != nil {
		base.FallbackGreeting = strings.TrimSpace(*p.FallbackGreeting)
	}
	return base
}

func (p Persona) Validate() error {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("%w: system_prompt must not be empty", ErrInvalid)
	}
	return nil
}

// Default is used until an operator saves a persona.
func Default() Persona {
	return Persona{
		SystemPrompt: strings.TrimSpace(`
You are a friendly phone assistant placing an outbound call.

- Introduce yourself briefly and explain why you are calling.
- Keep every reply to two or three short sentences.
- Ask one question at a time, then wait for the answer.
- If the person is busy, offer to call back and end politely.`),
		InitialGreeting:  "Hi! I'm calling with a quick question. Do you have a minute to chat?",
		FallbackGreeting: "Hello! Thanks for calling. How can I help you today?",
	}
}
