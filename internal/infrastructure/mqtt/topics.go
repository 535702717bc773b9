package mqtt

import "fmt"

// Topic prefixes for the Ember MQTT hierarchy.
//
// Entity topics use the flat scheme: ember/{category}/{domain}/{object_id}
// where object_id is the entity's slug without the domain prefix
// (entity "sensor.outdoor_temp" publishes under .../sensor/outdoor_temp).
const (
	// TopicPrefix is the base for all Ember topics.
	TopicPrefix = "ember"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ember/system"
)

// Topics provides builders for Ember MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("sensor", "outdoor_temp")
//	// Returns: "ember/state/sensor/outdoor_temp"
type Topics struct{}

// EntityState returns the topic for an entity's projected state.
//
// Example: ember/state/sensor/outdoor_temp
func (Topics) EntityState(domain, objectID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, domain, objectID)
}

// EntityAvailability returns the topic for an entity's availability flag.
//
// Example: ember/availability/sensor/outdoor_temp
func (Topics) EntityAvailability(domain, objectID string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, domain, objectID)
}

// EntityRemoved returns the topic announcing an entity's removal.
//
// Example: ember/removed/sensor/outdoor_temp
func (Topics) EntityRemoved(domain, objectID string) string {
	return fmt.Sprintf("%s/removed/%s/%s", TopicPrefix, domain, objectID)
}

// CoordinatorStatus returns the topic for a coordinator's health summary.
//
// Example: ember/coordinator/weather/status
func (Topics) CoordinatorStatus(name string) string {
	return fmt.Sprintf("%s/coordinator/%s/status", TopicPrefix, name)
}

// SystemStatus returns the system status topic used for the online
// message and the Last Will and Testament.
//
// Example: ember/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEntityStates returns a pattern matching every entity state topic.
//
// Pattern: ember/state/+/+
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllEntityAvailability returns a pattern matching every availability topic.
//
// Pattern: ember/availability/+/+
func (Topics) AllEntityAvailability() string {
	return fmt.Sprintf("%s/availability/+/+", TopicPrefix)
}

// DomainStates returns a pattern matching state topics for one domain.
//
// Pattern: ember/state/sensor/+
func (Topics) DomainStates(domain string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, domain)
}

// AllTopics returns a pattern matching all Ember topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: ember/#
func (Topics) AllTopics() string {
	return "ember/#"
}
