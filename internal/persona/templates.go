package persona

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

type Template struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	Description      string `yaml:"description" json:"description"`
	SystemPrompt     string `yaml:"system_prompt" json:"system_prompt"`
	InitialGreeting  string `yaml:"initial_greeting" json:"initial_greeting"`
	FallbackGreeting string `yaml:"fallback_greeting" json:"fallback_greeting"`
}

// Persona converts the template into a saveable persona.
func (t Template) Persona() Persona {
	return Persona{
		SystemPrompt:     t.SystemPrompt,
		InitialGreeting:  t.InitialGreeting,
		FallbackGreeting: t.FallbackGreeting,
	}
}

var (
	templatesOnce sync.Once
	templates     []Template
	templatesErr  error
)

// Templates returns the built-in starter personas.
func Templates() ([]Template, error) {
	templatesOnce.Do(func() {
		if err := yaml.Unmarshal(templatesYAML, &templates); err != nil {
			templatesErr = fmt.Errorf("parse embedded persona templates: %w", err)
		}
	})
	if templatesErr != nil {
		return nil, templatesErr
	}
	return append([]Template(nil), templates...), nil
}
