package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/emberhaus/ember-core/internal/coordinator"
	"github.com/emberhaus/ember-core/internal/entity"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
)

// Domain errors for the weather adapter.
var (
	// ErrDisabled is returned when the adapter is turned off in config.
	ErrDisabled = errors.New("weather: disabled in configuration")

	// ErrBadStatus is returned when the forecast service responds with
	// a non-200 status.
	ErrBadStatus = errors.New("weather: unexpected response status")
)

// maxResponseSize bounds the forecast body read (1MB).
const maxResponseSize = 1 << 20

// Observation is the decoded current-conditions snapshot the
// coordinator holds. Fields follow the Open-Meteo current weather
// variables.
type Observation struct {
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"`
	WeatherCode int     `json:"weather_code"`
}

// apiResponse mirrors the service's envelope.
type apiResponse struct {
	Current Observation `json:"current"`
}

// Adapter owns the forecast coordinator and its sensor entities.
// One HTTP fetch feeds all of them.
type Adapter struct {
	coord  *coordinator.Coordinator
	client *http.Client
}

// New creates the adapter from config. The site location supplies the
// coordinates sent to the forecast service.
func New(cfg config.WeatherAdapterConfig, site config.SiteConfig, polling config.PollingConfig, logger coordinator.Logger) (*Adapter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	endpoint, err := buildURL(cfg.URL, site.Location)
	if err != nil {
		return nil, fmt.Errorf("weather: building request url: %w", err)
	}

	a := &Adapter{
		client: &http.Client{Timeout: polling.UpdateTimeout},
	}

	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	a.coord, err = coordinator.New(coordinator.Options{
		Name:             "weather",
		Fetch:            a.fetchFunc(endpoint),
		Interval:         interval,
		Timeout:          polling.UpdateTimeout,
		FailureThreshold: polling.FailureThreshold,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Coordinator returns the forecast coordinator for startup wiring.
func (a *Adapter) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Entities returns the adapter's sensor entities, ready for
// registration with a sensor domain manager.
func (a *Adapter) Entities() []entity.Entity {
	return []entity.Entity{
		newObservationSensor(a.coord, "temperature", "Outdoor Temperature", "temperature", "°C",
			func(o *Observation) float64 { return o.Temperature }),
		newObservationSensor(a.coord, "humidity", "Outdoor Humidity", "humidity", "%",
			func(o *Observation) float64 { return o.Humidity }),
		newObservationSensor(a.coord, "wind_speed", "Wind Speed", "wind_speed", "km/h",
			func(o *Observation) float64 { return o.WindSpeed }),
	}
}

// Shutdown stops the coordinator.
func (a *Adapter) Shutdown() {
	a.coord.Shutdown()
}

// fetchFunc returns the coordinator fetch closure for one endpoint.
func (a *Adapter) fetchFunc(endpoint string) coordinator.FetchFunc {
	return func(ctx context.Context) (coordinator.Snapshot, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("weather: building request: %w", err)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("weather: fetching forecast: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("weather: reading response: %w", err)
		}

		var parsed apiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("weather: decoding response: %w", err)
		}

		obs := parsed.Current
		return &obs, nil
	}
}

// buildURL attaches coordinates and requested variables to the base URL.
func buildURL(base string, loc config.LocationConfig) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	u.RawQuery = q.Encode()

	return u.String(), nil
}
