package sysmon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/emberhaus/ember-core/internal/entity"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
)

// ErrDisabled is returned when the adapter is turned off in config.
var ErrDisabled = errors.New("sysmon: disabled in configuration")

// rootPath is the filesystem whose usage the disk sensor reports.
const rootPath = "/"

// Adapter exposes host health readings (CPU, memory, disk, load) as
// polled sensor entities. Unlike the weather adapter there is no
// shared coordinator; each sensor reads its own probe when the
// manager's poll cycle calls Update.
type Adapter struct {
	scanInterval time.Duration
}

// New creates the adapter from config.
func New(cfg config.SysmonAdapterConfig) (*Adapter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	return &Adapter{scanInterval: cfg.ScanInterval}, nil
}

// Entities returns the host sensors, ready for registration with a
// sensor domain manager.
func (a *Adapter) Entities() []entity.Entity {
	return []entity.Entity{
		newProbeSensor("host_cpu", "Host CPU Usage", "%", a.scanInterval, probeCPU),
		newProbeSensor("host_memory", "Host Memory Usage", "%", a.scanInterval, probeMemory),
		newProbeSensor("host_disk", "Host Disk Usage", "%", a.scanInterval, probeDisk),
		newProbeSensor("host_load", "Host Load Average", "", a.scanInterval, probeLoad),
	}
}

// probeFunc reads one host metric.
type probeFunc func(ctx context.Context) (float64, error)

// probeSensor is a polled entity around a single gopsutil probe.
type probeSensor struct {
	desc  entity.Description
	probe probeFunc

	mu        sync.RWMutex
	value     float64
	available bool
}

func newProbeSensor(key, name, unit string, scanInterval time.Duration, probe probeFunc) *probeSensor {
	return &probeSensor{
		desc: entity.Description{
			UniqueID:     "sysmon_" + key,
			Name:         name,
			Unit:         unit,
			ShouldPoll:   true,
			ScanInterval: scanInterval,
			Diagnostic:   true,
		},
		probe: probe,
	}
}

func (s *probeSensor) Description() entity.Description {
	return s.desc
}

func (s *probeSensor) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

func (s *probeSensor) State() entity.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return nil
	}
	st := entity.State{"value": s.value}
	if s.desc.Unit != "" {
		st["unit"] = s.desc.Unit
	}
	return st
}

func (s *probeSensor) Update(ctx context.Context) error {
	value, err := s.probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.available = false
		return fmt.Errorf("sysmon: probing %s: %w", s.desc.UniqueID, err)
	}
	s.value = value
	s.available = true
	return nil
}

func probeCPU(ctx context.Context) (float64, error) {
	// Interval 0 compares against the previous sample, so repeated
	// polls return usage since the last cycle without blocking.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("no cpu sample")
	}
	return percents[0], nil
}

func probeMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func probeDisk(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, rootPath)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func probeLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}
