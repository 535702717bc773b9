package entity

import "errors"

// Domain errors for the entity package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, entity.ErrEntityNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntityNotFound is returned when an entity ID does not exist.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrEntityExists is returned when persisting an entity whose ID already exists.
	ErrEntityExists = errors.New("entity: already exists")

	// ErrDuplicateUniqueID is returned when an entity's unique ID is
	// already claimed within the same domain.
	ErrDuplicateUniqueID = errors.New("entity: duplicate unique id")

	// ErrInvalidDescription is returned when an entity description fails validation.
	ErrInvalidDescription = errors.New("entity: invalid description")

	// ErrInvalidDomain is returned when a domain string is not a valid slug.
	ErrInvalidDomain = errors.New("entity: invalid domain")

	// ErrInvalidState is returned when a state map fails validation.
	ErrInvalidState = errors.New("entity: invalid state")

	// ErrUpdateFailed is returned when an entity's pre-add update fails.
	ErrUpdateFailed = errors.New("entity: update failed")

	// ErrManagerStopped is returned when an operation is attempted on a
	// manager that has been shut down.
	ErrManagerStopped = errors.New("entity: manager stopped")
)
