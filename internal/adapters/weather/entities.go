package weather

import (
	"github.com/emberhaus/ember-core/internal/coordinator"
	"github.com/emberhaus/ember-core/internal/entity"
)

// observationSensor exposes one field of the shared observation as a
// sensor entity. All sensors of the adapter ride the same coordinator.
type observationSensor struct {
	entity.CoordinatorEntity
	desc entity.Description
	read func(*Observation) float64
	unit string
}

func newObservationSensor(coord *coordinator.Coordinator, key, name, deviceClass, unit string, read func(*Observation) float64) *observationSensor {
	return &observationSensor{
		CoordinatorEntity: entity.NewCoordinatorEntity(coord),
		desc: entity.Description{
			UniqueID:    "weather_" + key,
			Name:        name,
			DeviceClass: deviceClass,
			Unit:        unit,
			// ShouldPoll stays false; the coordinator pushes updates.
		},
		read: read,
		unit: unit,
	}
}

func (s *observationSensor) Description() entity.Description {
	return s.desc
}

// Available requires both a healthy coordinator and a snapshot to read.
func (s *observationSensor) Available() bool {
	if !s.CoordinatorEntity.Available() {
		return false
	}
	_, ok := s.Coordinator().Data().(*Observation)
	return ok
}

func (s *observationSensor) State() entity.State {
	obs, ok := s.Coordinator().Data().(*Observation)
	if !ok {
		return nil
	}
	return entity.State{
		"value": s.read(obs),
		"unit":  s.unit,
	}
}
