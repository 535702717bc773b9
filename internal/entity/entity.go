package entity

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSlugLength = 64
	domainPattern = `^[a-z][a-z0-9_]*$`

	// maxStateKeys bounds the state map size to keep persistence and
	// MQTT payloads reasonable.
	maxStateKeys = 100
)

var domainRegex = regexp.MustCompile(domainPattern)

// State is an entity's projected state: named readings and attributes.
// Values must be JSON-serialisable.
type State map[string]any

// Clone returns a shallow copy of the state map. Callers that hand a
// State to another goroutine should clone it first.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Description holds an entity's static metadata. Capabilities are
// explicit flags here rather than inferred from the concrete type.
type Description struct {
	// UniqueID identifies the entity stably across restarts. Required.
	// Two entities in the same domain may never share a unique ID.
	UniqueID string

	// Name is the human-readable display name. Required; it also seeds
	// the entity ID slug.
	Name string

	// DeviceClass hints at how to interpret the state (temperature,
	// humidity, power, ...). Optional.
	DeviceClass string

	// Unit is the unit of measurement for the primary reading. Optional.
	Unit string

	// ShouldPoll marks the entity for periodic updates by the manager.
	// Coordinator-bound entities leave this false; the coordinator
	// pushes updates to them instead.
	ShouldPoll bool

	// ScanInterval overrides the manager's default polling cadence for
	// this entity. Zero means use the manager default. Only meaningful
	// when ShouldPoll is true.
	ScanInterval time.Duration

	// ForceUpdate projects the state on every update even when the
	// values did not change.
	ForceUpdate bool

	// Diagnostic marks the entity as internal health information rather
	// than a user-facing reading.
	Diagnostic bool
}

// Entity is the contract every registered entity fulfils.
//
// Implementations must be safe for concurrent calls to Available and
// State while Update is running; the manager reads projections from
// other goroutines.
type Entity interface {
	// Description returns the entity's static metadata.
	Description() Description

	// Available reports whether the entity's readings are trustworthy.
	// Unavailable entities keep their last state but are flagged.
	Available() bool

	// State returns the current projected state.
	State() State

	// Update refreshes the entity's state from its source. It is called
	// by the manager's poll loop (when ShouldPoll is set) or manually.
	Update(ctx context.Context) error
}

// ValidateDescription checks the fields the manager depends on.
func ValidateDescription(d Description) error {
	if d.UniqueID == "" {
		return fmt.Errorf("%w: unique id is required", ErrInvalidDescription)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescription)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDescription, maxNameLength)
	}
	if d.ScanInterval < 0 {
		return fmt.Errorf("%w: scan interval must not be negative", ErrInvalidDescription)
	}
	return nil
}

// ValidateState checks a state map is within size limits before it is
// persisted or published.
func ValidateState(s State) error {
	if len(s) > maxStateKeys {
		return fmt.Errorf("%w: state exceeds max keys (%d)", ErrInvalidState, maxStateKeys)
	}
	return nil
}

// ValidateDomain checks a domain is a lowercase slug (sensor,
// binary_sensor, ...).
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > maxSlugLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return nil
}

// Slugify converts a display name into an entity ID object slug:
// lowercased, with runs of non-alphanumeric characters collapsed to
// single underscores.
//
//	Slugify("Outdoor Temp (North)") == "outdoor_temp_north"
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true // suppress leading underscore
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "_")
	if len(slug) > maxSlugLength {
		slug = strings.TrimSuffix(slug[:maxSlugLength], "_")
	}
	return slug
}

// SplitEntityID splits "sensor.outdoor_temp" into its domain and
// object slug. The second return is empty if the ID has no dot.
func SplitEntityID(entityID string) (domain, objectID string) {
	domain, objectID, _ = strings.Cut(entityID, ".")
	return domain, objectID
}
