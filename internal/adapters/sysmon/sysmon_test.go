package sysmon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/entity"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(config.SysmonAdapterConfig{Enabled: true, ScanInterval: time.Minute})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

// TestNew_Disabled verifies the disabled sentinel.
func TestNew_Disabled(t *testing.T) {
	if _, err := New(config.SysmonAdapterConfig{Enabled: false}); !errors.Is(err, ErrDisabled) {
		t.Errorf("New() error = %v, want ErrDisabled", err)
	}
}

// TestEntities verifies the sensor set and its polling contract.
func TestEntities(t *testing.T) {
	entities := testAdapter(t).Entities()
	if len(entities) != 4 {
		t.Fatalf("Entities() returned %d, want 4", len(entities))
	}

	seen := map[string]bool{}
	for _, e := range entities {
		desc := e.Description()
		if err := entity.ValidateDescription(desc); err != nil {
			t.Errorf("%s: invalid description: %v", desc.UniqueID, err)
		}
		if !desc.ShouldPoll {
			t.Errorf("%s: host sensors must poll", desc.UniqueID)
		}
		if desc.ScanInterval != time.Minute {
			t.Errorf("%s: scan interval = %v, want 1m", desc.UniqueID, desc.ScanInterval)
		}
		if e.Available() {
			t.Errorf("%s: available before first update", desc.UniqueID)
		}
		seen[desc.UniqueID] = true
	}

	for _, id := range []string{"sysmon_host_cpu", "sysmon_host_memory", "sysmon_host_disk", "sysmon_host_load"} {
		if !seen[id] {
			t.Errorf("missing sensor %s", id)
		}
	}
}

// TestProbeSensorUpdate verifies state after probe success and failure.
func TestProbeSensorUpdate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := newProbeSensor("test", "Test Probe", "%", 0,
			func(ctx context.Context) (float64, error) { return 42.5, nil })

		if err := s.Update(context.Background()); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if !s.Available() {
			t.Error("Available() = false after success")
		}
		st := s.State()
		if st["value"] != 42.5 {
			t.Errorf("value = %v, want 42.5", st["value"])
		}
		if st["unit"] != "%" {
			t.Errorf("unit = %v, want %%", st["unit"])
		}
	})

	t.Run("failure flips availability", func(t *testing.T) {
		calls := 0
		s := newProbeSensor("test", "Test Probe", "", 0,
			func(ctx context.Context) (float64, error) {
				calls++
				if calls > 1 {
					return 0, errors.New("probe broke")
				}
				return 1.0, nil
			})

		if err := s.Update(context.Background()); err != nil {
			t.Fatalf("first Update() error = %v", err)
		}
		if err := s.Update(context.Background()); err == nil {
			t.Fatal("second Update() succeeded, want failure")
		}
		if s.Available() {
			t.Error("Available() = true after failed update")
		}
		if s.State() != nil {
			t.Error("State() non-nil while unavailable")
		}
	})
}

// TestRealProbes runs the actual host probes once. Memory and disk
// should work on any Linux host the tests run on.
func TestRealProbes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	v, err := probeMemory(ctx)
	if err != nil {
		t.Fatalf("probeMemory() error = %v", err)
	}
	if v < 0 || v > 100 {
		t.Errorf("memory used percent = %v, want 0..100", v)
	}

	v, err = probeDisk(ctx)
	if err != nil {
		t.Fatalf("probeDisk() error = %v", err)
	}
	if v < 0 || v > 100 {
		t.Errorf("disk used percent = %v, want 0..100", v)
	}
}
