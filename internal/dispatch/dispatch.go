// Package dispatch places outbound calls by asking LiveKit to send the voice
// agent into a fresh room; the agent then dials the callee over SIP.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const DefaultAgentName = "outbound-caller"

var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrMissingCredentials = errors.New("LiveKit credentials missing in Settings")
)

type Request struct {
	PhoneNumber string
	RoomName    string
	AgentName   string
}

type Result struct {
	DispatchID string
	RoomName   string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

type Credentials struct {
	URL       string
	APIKey    string
	APISecret string
}

func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.URL) != "" &&
		strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.APISecret) != ""
}

// Factory builds a Dispatcher for the credentials current at call time.
type Factory func(Credentials) (Dispatcher, error)

// ValidatePhone trims phone and checks it is an international number.
// The returned error wraps ErrInvalidPhone and reads well as an API message.
func ValidatePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	switch {
	case phone == "":
		return "", fmt.Errorf("%w: Phone number is required", ErrInvalidPhone)
	case !strings.HasPrefix(phone, "+"):
		return "", fmt.Errorf(`%w: Phone number must start with "+" and country code`, ErrInvalidPhone)
	case len(phone) < 8:
		return "", fmt.Errorf(`%w: Phone number %q looks too short`, ErrInvalidPhone, phone)
	}
	return phone, nil
}

// PhoneError returns the operator-facing part of a ValidatePhone error.
func PhoneError(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidPhone.Error()+": ")
}

// RoomName returns "call-<number without +>-<1000..9999>". A nil r uses the
// package-level source.
func RoomName(phone string, r *rand.Rand) string {
	var suffix int
	if r == nil {
		suffix = 1000 + rand.IntN(9000)
	} else {
		suffix = 1000 + r.IntN(9000)
	}
	return fmt.Sprintf("call-%s-%d", strings.ReplaceAll(strings.TrimSpace(phone), "+", ""), suffix)
}
