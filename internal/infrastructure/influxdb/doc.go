// Package influxdb provides InfluxDB connectivity for Shade Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, telemetry writing, and health monitoring.
//
// # Purpose
//
// This package records shade activity as time series:
//   - Accepted positions with their source (shade_position)
//   - Outbound position and mode commands (shade_command)
//   - Pending command resolutions and their latency (shade_resolution)
//
// Environment sensor readings are deliberately not written; they live in
// memory only.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePosition("sensores/motor", 42, "state")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
package influxdb
