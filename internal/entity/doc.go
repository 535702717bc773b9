// Package entity implements the entity model and its lifecycle.
//
// An entity is a single readable thing (a temperature, a CPU load, a
// switch position) with a stable unique ID, a display name, and a
// projected state. Entities in one domain (sensor, binary_sensor, ...)
// are owned by a Manager, which handles:
//
//   - Registration with duplicate unique-ID rejection and optional
//     update-before-add
//   - Entity ID assignment: domain.slug with _2, _3 suffixes on
//     collision, kept stable across restarts via the repository
//   - Periodic polling of ShouldPoll entities with a bounded worker
//     pool and per-entity error and panic isolation
//   - State projection to persistence and sinks (MQTT, InfluxDB)
//   - Idempotent removal
//
// Entities backed by a shared data source embed CoordinatorEntity and
// leave ShouldPoll false; the manager subscribes them to their
// coordinator and re-projects on every fetch attempt.
package entity
