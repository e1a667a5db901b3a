package calls

import (
	"context"
	"errors"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

var (
	ErrNotFound        = errors.New("call store record not found")
	ErrDuplicatePhone  = errors.New("phone number already exists")
	ErrInvalidStatus   = errors.New("invalid call status")
	ErrInvalidDuration = errors.New("duration must be >= 0")
	ErrEmptyUpdate     = errors.New("no fields to update")
	ErrInvalidContact  = errors.New("name and phone number are required")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type CallFilter struct {
	Status Status
	Limit  int
}

// CostFilter bounds a cost summary by created_at. Zero times are unbounded.
type CostFilter struct {
	From time.Time
	To   time.Time
}

type CallStore interface {
	CreateCall(ctx context.Context, call *Call) error
	GetCall(ctx context.Context, id int64) (*Call, error)
	GetCallByRoom(ctx context.Context, roomName string) (*Call, error)
	ListCalls(ctx context.Context, filter CallFilter) ([]*Call, error)
	// UpdateCall applies patch in one statement and returns the stored row.
	UpdateCall(ctx context.Context, id int64, patch Patch) (*Call, error)
	SummarizeCosts(ctx context.Context, filter CostFilter) (*cost.Sums, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CostEntriesSince(ctx context.Context, from time.Time) ([]cost.Entry, error)
}

type ContactStore interface {
	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, id int64) (*Contact, error)
	ListContacts(ctx context.Context, search string) ([]*Contact, error)
	UpdateContact(ctx context.Context, contact *Contact) error
	DeleteContact(ctx context.Context, id int64) error
	CountContacts(ctx context.Context) (int64, error)
	// TouchContact stamps last_called on the contact with this phone number,
	// if one exists.
	TouchContact(ctx context.Context, phoneNumber string, at time.Time) error
}

type TranscriptStore interface {
	AddTranscript(ctx context.Context, entry *TranscriptEntry) error
	ListTranscript(ctx context.Context, callID int64) ([]TranscriptEntry, error)
}

type Store interface {
	CallStore
	ContactStore
	TranscriptStore
	AppliedMigrations(ctx context.Context) ([]string, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func normalizeCall(in *Call, now time.Time) {
	if in.Status == "" {
		in.Status = StatusInitiated
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.CreatedAt = in.CreatedAt.UTC()
}

func normalizeContact(in *Contact, now time.Time) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.CreatedAt = in.CreatedAt.UTC()
}

func searchPattern(search string) string {
	return "%" + search + "%"
}
