package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emberhaus/ember-core/internal/infrastructure/config"
)

const sampleResponse = `{
	"latitude": 51.5,
	"longitude": -0.12,
	"current": {
		"temperature_2m": 18.3,
		"relative_humidity_2m": 64,
		"wind_speed_10m": 12.7,
		"weather_code": 3
	}
}`

func testPolling() config.PollingConfig {
	return config.PollingConfig{
		ScanInterval:     30 * time.Second,
		UpdateTimeout:    5 * time.Second,
		FailureThreshold: 5,
	}
}

func testSite() config.SiteConfig {
	return config.SiteConfig{
		Location: config.LocationConfig{Latitude: 51.5074, Longitude: -0.1278},
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(config.WeatherAdapterConfig{
		Enabled:        true,
		URL:            srv.URL,
		UpdateInterval: time.Hour,
	}, testSite(), testPolling(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

// TestNew_Disabled verifies the disabled sentinel.
func TestNew_Disabled(t *testing.T) {
	_, err := New(config.WeatherAdapterConfig{Enabled: false}, testSite(), testPolling(), nil)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("New() error = %v, want ErrDisabled", err)
	}
}

// TestFetch verifies request construction and response decoding.
func TestFetch(t *testing.T) {
	var gotQuery atomic.Value
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse)) //nolint:errcheck // test handler
	})

	if err := a.Coordinator().FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}

	q := gotQuery.Load().(url.Values)
	if got := q.Get("latitude"); got != "51.5074" {
		t.Errorf("latitude = %q, want 51.5074", got)
	}
	if q.Get("current") == "" {
		t.Error("current variables missing from query")
	}

	obs, ok := a.Coordinator().Data().(*Observation)
	if !ok {
		t.Fatalf("Data() = %T, want *Observation", a.Coordinator().Data())
	}
	if obs.Temperature != 18.3 {
		t.Errorf("Temperature = %v, want 18.3", obs.Temperature)
	}
	if obs.Humidity != 64 {
		t.Errorf("Humidity = %v, want 64", obs.Humidity)
	}
}

// TestFetch_ServerError verifies non-200 responses are failures.
func TestFetch_ServerError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	})

	err := a.Coordinator().Refresh(context.Background())
	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("Refresh() error = %v, want ErrBadStatus", err)
	}
	if a.Coordinator().LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after server error")
	}
}

// TestFetch_MalformedBody verifies decode failures are failures.
func TestFetch_MalformedBody(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"current": [not json`)) //nolint:errcheck // test handler
	})

	if err := a.Coordinator().Refresh(context.Background()); err == nil {
		t.Error("Refresh() succeeded on malformed body")
	}
}

// TestEntities verifies the sensors project the shared observation.
func TestEntities(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse)) //nolint:errcheck // test handler
	})

	entities := a.Entities()
	if len(entities) != 3 {
		t.Fatalf("Entities() returned %d, want 3", len(entities))
	}

	// Before the first fetch nothing is available.
	for _, e := range entities {
		if e.Available() {
			t.Errorf("%s available before first fetch", e.Description().UniqueID)
		}
		if e.Description().ShouldPoll {
			t.Errorf("%s should not poll; it is coordinator-bound", e.Description().UniqueID)
		}
	}

	if err := a.Coordinator().FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}

	want := map[string]float64{
		"weather_temperature": 18.3,
		"weather_humidity":    64,
		"weather_wind_speed":  12.7,
	}
	for _, e := range entities {
		desc := e.Description()
		if !e.Available() {
			t.Errorf("%s unavailable after fetch", desc.UniqueID)
			continue
		}
		st := e.State()
		if st["value"] != want[desc.UniqueID] {
			t.Errorf("%s value = %v, want %v", desc.UniqueID, st["value"], want[desc.UniqueID])
		}
	}
}
