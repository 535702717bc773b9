package entity

import (
	"encoding/json"

	"github.com/emberhaus/ember-core/internal/infrastructure/influxdb"
	"github.com/emberhaus/ember-core/internal/infrastructure/mqtt"
)

// StateSink receives entity projections after every update. Sinks must
// not block for long; they are called from update and listener
// goroutines.
type StateSink interface {
	// EntityState delivers the current state and availability.
	EntityState(entityID, domain string, st State, available bool)

	// EntityRemoved announces that an entity was unregistered.
	EntityRemoved(entityID, domain string)
}

// MQTTSink projects entity state onto the MQTT bus.
//
// State is published retained as JSON to ember/state/{domain}/{object},
// availability as "online"/"offline" to ember/availability/... . On
// removal the retained messages are cleared and a removal event is
// published.
type MQTTSink struct {
	client *mqtt.Client
	topics mqtt.Topics
	logger Logger
}

// NewMQTTSink creates a sink publishing through the given client.
func NewMQTTSink(client *mqtt.Client, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{client: client, logger: logger}
}

// EntityState publishes the state and availability topics.
func (s *MQTTSink) EntityState(entityID, domain string, st State, available bool) {
	_, objectID := SplitEntityID(entityID)
	if objectID == "" {
		objectID = entityID
	}

	payload, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("entity state not serialisable", "entity_id", entityID, "error", err)
		return
	}

	if err := s.client.PublishRetained(s.topics.EntityState(domain, objectID), payload); err != nil {
		s.logger.Warn("state publish failed", "entity_id", entityID, "error", err)
	}

	avail := "offline"
	if available {
		avail = "online"
	}
	if err := s.client.PublishRetained(s.topics.EntityAvailability(domain, objectID), []byte(avail)); err != nil {
		s.logger.Warn("availability publish failed", "entity_id", entityID, "error", err)
	}
}

// EntityRemoved clears the retained topics and announces the removal.
func (s *MQTTSink) EntityRemoved(entityID, domain string) {
	_, objectID := SplitEntityID(entityID)
	if objectID == "" {
		objectID = entityID
	}

	// Empty retained payloads clear broker-side retention.
	_ = s.client.PublishRetained(s.topics.EntityState(domain, objectID), nil)          //nolint:errcheck
	_ = s.client.PublishRetained(s.topics.EntityAvailability(domain, objectID), nil)   //nolint:errcheck
	if err := s.client.PublishRetained(s.topics.EntityRemoved(domain, objectID), []byte(entityID)); err != nil {
		s.logger.Warn("removal publish failed", "entity_id", entityID, "error", err)
	}
}

// InfluxSink records numeric entity readings as time-series points.
// Non-numeric state values are skipped; availability transitions are
// always recorded.
type InfluxSink struct {
	client *influxdb.Client
}

// NewInfluxSink creates a sink writing through the given client.
func NewInfluxSink(client *influxdb.Client) *InfluxSink {
	return &InfluxSink{client: client}
}

// EntityState writes each numeric reading as a point.
func (s *InfluxSink) EntityState(entityID, domain string, st State, available bool) {
	for key, value := range st {
		if v, ok := toFloat(value); ok {
			s.client.WriteEntityMetric(entityID, domain, key, v)
		}
	}
	s.client.WriteEntityAvailability(entityID, domain, available)
}

// EntityRemoved is a no-op; history is kept.
func (s *InfluxSink) EntityRemoved(string, string) {}

// toFloat widens the numeric types JSON and adapters commonly produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// MultiSink fans projections out to several sinks.
type MultiSink []StateSink

// EntityState delivers to every sink in order.
func (m MultiSink) EntityState(entityID, domain string, st State, available bool) {
	for _, s := range m {
		s.EntityState(entityID, domain, st, available)
	}
}

// EntityRemoved delivers to every sink in order.
func (m MultiSink) EntityRemoved(entityID, domain string) {
	for _, s := range m {
		s.EntityRemoved(entityID, domain)
	}
}
