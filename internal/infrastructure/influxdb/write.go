package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEntityMetric writes a numeric reading for one entity.
//
// This is the primary method for recording entity telemetry. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteEntityMetric("sensor.outdoor_temp", "sensor", "temperature_c", 21.5)
//	client.WriteEntityMetric("sensor.host_cpu", "sensor", "cpu_percent", 43.0)
func (c *Client) WriteEntityMetric(entityID, domain, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"entity_metrics",
		map[string]string{
			"entity_id":   entityID,
			"domain":      domain,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEntityAvailability records an availability transition so outages
// can be charted alongside readings.
func (c *Client) WriteEntityAvailability(entityID, domain string, available bool) {
	if !c.IsConnected() {
		return
	}

	v := 0.0
	if available {
		v = 1.0
	}

	point := write.NewPoint(
		"entity_availability",
		map[string]string{
			"entity_id": entityID,
			"domain":    domain,
		},
		map[string]interface{}{
			"available": v,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCoordinatorMetric writes a health measurement for one coordinator.
//
// Used for tracking fetch durations and consecutive failure runs.
//
// Example:
//
//	client.WriteCoordinatorMetric("weather", "fetch_ms", 142.0)
//	client.WriteCoordinatorMetric("weather", "consecutive_failures", 3)
func (c *Client) WriteCoordinatorMetric(name, metric string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"coordinator",
		map[string]string{
			"coordinator": name,
			"metric":      metric,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
