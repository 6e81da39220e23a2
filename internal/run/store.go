package run

import (
	"context"
	"errors"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrRunNotFound is returned when an operation references an unknown run_id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition is returned when a run status transition leaves a
	// terminal state, or targets a non-terminal state.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrStoreIO is returned when the backing storage fails. Storage I/O
	// failures are infrastructure bugs from the router's perspective, never
	// tool failures.
	ErrStoreIO = errors.New("event store I/O failure")
)

// Store defines the interface for run and event persistence.
//
// The domain package defines this interface to specify what it needs,
// without depending on concrete implementations. The router holds a Store
// for the duration of one run and is its sole writer; the replayer and
// inspector open read-only handles against the same backing file.
//
// Implementations must guarantee:
//   - Append serializes seq allocation per run_id: seq is dense from 0 with
//     no gaps and no repeats, even under concurrent runs.
//   - Every operation either succeeds or leaves the store unchanged.
//   - Events are immutable once appended; runs are never deleted.
type Store interface {
	// CreateRun assigns a fresh run_id, records created_at (UTC), and
	// inserts the run with status RUNNING.
	CreateRun(ctx context.Context, mode Mode, goal string) (string, error)

	// Append atomically allocates the next seq for runID (0 if none, else
	// max+1), persists the event, and returns its event_id.
	// Returns ErrRunNotFound when runID is unknown.
	Append(ctx context.Context, runID string, eventType EventType, payload Payload) (string, error)

	// SetRunStatus transitions a run from RUNNING to COMPLETED or FAILED.
	// Repeating the same terminal status is idempotent; any transition away
	// from a terminal status returns ErrInvalidTransition.
	SetRunStatus(ctx context.Context, runID string, status Status) error

	// GetRun returns the run record for runID, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs matching filter, ordered by created_at
	// descending, honoring limit (clamped to [0, 10000]) and offset.
	ListRuns(ctx context.Context, filter Filter, limit, offset int) ([]*Run, error)

	// CountRuns returns aggregate counts under the same filter predicate as
	// ListRuns.
	CountRuns(ctx context.Context, filter Filter) (*Counts, error)

	// ReadEvents returns all events for runID in ascending seq order.
	// Returns ErrRunNotFound when runID is unknown.
	ReadEvents(ctx context.Context, runID string) ([]*StoredEvent, error)

	// Close releases the handle. Safe to call multiple times.
	Close() error
}
