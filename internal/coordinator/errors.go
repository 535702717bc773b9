package coordinator

import (
	"errors"
	"fmt"
)

// Domain errors for the coordinator package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, coordinator.ErrFetchTimeout) {
//	    // handle timeout case
//	}
var (
	// ErrNilFetch is returned when a coordinator is created without a fetch function.
	ErrNilFetch = errors.New("coordinator: fetch function is required")

	// ErrMissingName is returned when a coordinator is created without a name.
	ErrMissingName = errors.New("coordinator: name is required")

	// ErrInvalidInterval is returned when periodic polling is requested
	// with a non-positive update interval.
	ErrInvalidInterval = errors.New("coordinator: update interval must be positive")

	// ErrFetchTimeout is recorded when a fetch exceeds the configured timeout.
	ErrFetchTimeout = errors.New("coordinator: fetch timed out")

	// ErrShutDown is returned when an operation is attempted after Shutdown.
	ErrShutDown = errors.New("coordinator: shut down")
)

// StartupError wraps the failure of a coordinator's very first fetch.
//
// It is returned only by FirstRefresh, so integration setup can
// distinguish "the data source never worked" (abort setup, or degrade)
// from an ordinary transient failure during steady-state polling.
type StartupError struct {
	// Name identifies the coordinator whose initial fetch failed.
	Name string

	// Err is the underlying fetch error.
	Err error
}

// Error implements the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("coordinator %s: initial refresh failed: %v", e.Name, e.Err)
}

// Unwrap returns the underlying fetch error.
func (e *StartupError) Unwrap() error {
	return e.Err
}
