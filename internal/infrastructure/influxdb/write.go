package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Shade Core.
const (
	MeasurementPosition   = "shade_position"
	MeasurementCommand    = "shade_command"
	MeasurementResolution = "shade_resolution"
)

// WritePosition records an accepted shade position.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - namespace: Actuator topic namespace (e.g., "sensores/motor")
//   - position: Clamped position percentage
//   - source: Where the value came from (e.g., "state", "position", "optimistic")
func (c *Client) WritePosition(namespace string, position int, source string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(positionPoint(namespace, position, source, time.Now()))
}

// WriteCommand records an outbound command.
//
// Parameters:
//   - namespace: Actuator topic namespace
//   - kind: "position" or "mode"
//   - value: The published payload
func (c *Client) WriteCommand(namespace, kind, value string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(namespace, kind, value, time.Now()))
}

// WriteResolution records how a pending position command resolved.
//
// Parameters:
//   - namespace: Actuator topic namespace
//   - outcome: confirmed_match, confirmed_mismatch or timed_out
//   - issued: Position that was commanded
//   - observed: Position the device reported (issued when unconfirmed)
//   - latency: Time from issue to resolution
func (c *Client) WriteResolution(namespace, outcome string, issued, observed int, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(resolutionPoint(namespace, outcome, issued, observed, latency, time.Now()))
}

func positionPoint(namespace string, position int, source string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPosition,
		map[string]string{
			"namespace": namespace,
			"source":    source,
		},
		map[string]interface{}{
			"position": position,
			"open":     position > 0,
		},
		ts,
	)
}

func commandPoint(namespace, kind, value string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"namespace": namespace,
			"kind":      kind,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}

func resolutionPoint(namespace, outcome string, issued, observed int, latency time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementResolution,
		map[string]string{
			"namespace": namespace,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"issued":     issued,
			"observed":   observed,
			"latency_ms": latency.Milliseconds(),
		},
		ts,
	)
}
