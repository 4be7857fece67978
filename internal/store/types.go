package store

import (
	"errors"
	"time"

	"aspri/internal/schema"
)

var (
	// ErrNotFound is returned for lookups of rows that do not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a compare-and-set guard does not match,
	// i.e. another writer got there first.
	ErrConflict = errors.New("store: conflict")
)

// Config configures the persistence backend.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc, no cgo)
//   - "memory": process-local store, used by tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActivationRecord is the per-(user, plugin) enablement row.
// ConfigVersion increments on every config replace and guards CAS updates.
type ActivationRecord struct {
	UserID        int64
	Slug          string
	IsActive      bool
	Config        schema.Config
	ConfigVersion int64
	ActivatedAt   time.Time
	DeactivatedAt time.Time
}

// Outcome of one execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ExecutionLogEntry is the immutable record of one plugin execution.
// ErrorMessage is set iff Outcome is failure.
type ExecutionLogEntry struct {
	ID           string
	UserID       int64
	Slug         string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      Outcome
	ErrorMessage string
	Trigger      string
}
