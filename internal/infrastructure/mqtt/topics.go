package mqtt

import "strings"

// Default topic roots used by the shade controller firmware.
const (
	// DefaultNamespace is the actuator namespace. Older firmware revisions
	// published under "sensores/servo"; the namespace is configurable so
	// either generation can be driven.
	DefaultNamespace = "sensores/motor"

	// DefaultSensorRoot is the prefix for environment sensor topics.
	DefaultSensorRoot = "sensores"
)

// Topic leaf names under the actuator namespace and sensor root.
const (
	leafState       = "estado"
	leafPosition    = "position"
	leafSet         = "set"
	leafMode        = "mode"
	leafTemperature = "temperature"
	leafHumidity    = "humidity"
	leafLuminosity  = "luminosity"
	leafWeather     = "weather"
)

// Topics builds the shade topic set for a namespace.
//
//	topics := mqtt.NewTopics("sensores/motor", "sensores")
//	topics.Set() // "sensores/motor/set"
type Topics struct {
	namespace  string
	sensorRoot string
}

// NewTopics returns a Topics for the given namespace and sensor root.
// Empty values fall back to DefaultNamespace and DefaultSensorRoot, and
// trailing slashes are trimmed.
func NewTopics(namespace, sensorRoot string) Topics {
	namespace = strings.TrimRight(namespace, "/")
	sensorRoot = strings.TrimRight(sensorRoot, "/")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if sensorRoot == "" {
		sensorRoot = DefaultSensorRoot
	}
	return Topics{namespace: namespace, sensorRoot: sensorRoot}
}

// Namespace returns the actuator namespace.
func (t Topics) Namespace() string { return t.namespace }

// =============================================================================
// Actuator Topics
// =============================================================================

// State carries {"apertura":N} snapshots in and {"comando":"getEstado"} requests out.
//
// Example: sensores/motor/estado
func (t Topics) State() string { return t.namespace + "/" + leafState }

// Position carries bare integer telemetry.
//
// Example: sensores/motor/position
func (t Topics) Position() string { return t.namespace + "/" + leafPosition }

// Set carries outbound position commands. Devices may echo them back.
//
// Example: sensores/motor/set
func (t Topics) Set() string { return t.namespace + "/" + leafSet }

// Mode carries the manual/auto/programmed token in both directions.
//
// Example: sensores/motor/mode
func (t Topics) Mode() string { return t.namespace + "/" + leafMode }

// AllActuator matches every topic one level under the namespace.
//
// Pattern: sensores/motor/+
func (t Topics) AllActuator() string { return t.namespace + "/+" }

// =============================================================================
// Sensor Topics
// =============================================================================

// Temperature carries the interior temperature as a bare number.
func (t Topics) Temperature() string { return t.sensorRoot + "/" + leafTemperature }

// Humidity carries relative humidity as a bare number.
func (t Topics) Humidity() string { return t.sensorRoot + "/" + leafHumidity }

// Luminosity carries the light level as a bare number.
func (t Topics) Luminosity() string { return t.sensorRoot + "/" + leafLuminosity }

// Weather carries external weather data as JSON.
func (t Topics) Weather() string { return t.sensorRoot + "/" + leafWeather }

// Subscriptions returns every topic pattern a shade session subscribes to.
// The wildcard comes last so the explicit topics are registered first.
func (t Topics) Subscriptions() []string {
	return []string{
		t.Position(),
		t.Set(),
		t.State(),
		t.Mode(),
		t.Temperature(),
		t.Humidity(),
		t.Luminosity(),
		t.Weather(),
		t.AllActuator(),
	}
}
