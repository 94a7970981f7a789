package crawler

import (
	"errors"
	"fmt"
)

// FetchErrorKind separates retryable from terminal fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchPermanent FetchErrorKind = "permanent"
)

var (
	// ErrParseMiss marks an expected element that was absent from a page.
	ErrParseMiss = errors.New("expected element missing")
	// ErrDetailAbsent means a detail page carried no recognizable detail at all.
	// It wraps ErrParseMiss.
	ErrDetailAbsent = fmt.Errorf("detail page has no recognizable content: %w", ErrParseMiss)
	// ErrQueueDrained is returned by Dequeue once production is complete and
	// every task has been handed out.
	ErrQueueDrained = errors.New("queue drained")
	// ErrQueueClosed is returned when enqueueing after production completed.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError is the typed failure returned by fetchers once retries are spent
// or a permanent condition is observed.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): status %d: %v",
			e.Kind, e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): %v", e.Kind, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

// IsPermanent reports whether err is a non-retryable fetch failure.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchPermanent
}

// StatusCode extracts the HTTP status carried by a fetch failure, or zero.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// PersistenceError wraps snapshot load/save failures.
type PersistenceError struct {
	Op      string
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is a snapshot persistence failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
