package entity

import (
	"context"

	"github.com/emberhaus/ember-core/internal/coordinator"
)

// CoordinatorBound is implemented by entities whose data comes from a
// shared coordinator. The manager uses it to subscribe the entity to
// the coordinator's update notifications instead of polling it.
type CoordinatorBound interface {
	Coordinator() *coordinator.Coordinator
}

// CoordinatorEntity is an embeddable base for entities backed by a
// coordinator. It supplies availability tracking and update delegation;
// the embedding type provides Description and State by reading
// coordinator data.
//
//	type temperatureSensor struct {
//	    entity.CoordinatorEntity
//	}
//
//	func (s *temperatureSensor) State() entity.State {
//	    data := s.Coordinator().Data().(*forecast)
//	    return entity.State{"value": data.Temperature}
//	}
type CoordinatorEntity struct {
	coord *coordinator.Coordinator
}

// NewCoordinatorEntity binds the base to a coordinator.
func NewCoordinatorEntity(c *coordinator.Coordinator) CoordinatorEntity {
	return CoordinatorEntity{coord: c}
}

// Coordinator returns the backing coordinator.
func (e CoordinatorEntity) Coordinator() *coordinator.Coordinator {
	return e.coord
}

// Available reports whether the coordinator's most recent fetch
// succeeded. Entities with extra conditions (a reading missing from
// the snapshot, say) override this and AND in their own check.
func (e CoordinatorEntity) Available() bool {
	return e.coord.LastUpdateSuccess()
}

// Update requests a refresh through the coordinator. Concurrent
// updates from sibling entities coalesce into one fetch.
func (e CoordinatorEntity) Update(ctx context.Context) error {
	return e.coord.Refresh(ctx)
}
