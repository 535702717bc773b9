// Package influxdb provides InfluxDB connectivity for Ember Core.
//
// It wraps the official influxdb-client-go v2 library with Ember
// patterns for connection management, metric writing, and health
// monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Entity readings (temperature, CPU load, ...)
//   - Entity availability transitions
//   - Coordinator health (fetch durations, failure runs)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteEntityMetric("sensor.outdoor_temp", "sensor", "temperature_c", 21.5)
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
