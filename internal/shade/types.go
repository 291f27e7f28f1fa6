package shade

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Position bounds, in percent.
const (
	MinPosition = 0
	MaxPosition = 100
)

// Clamp constrains a position to [MinPosition, MaxPosition].
func Clamp(position int) int {
	if position < MinPosition {
		return MinPosition
	}
	if position > MaxPosition {
		return MaxPosition
	}
	return position
}

// Mode is the operating mode of the actuator controller.
type Mode int

// Mode values.
const (
	ModeManual Mode = iota
	ModeAutomatic
	ModeScheduled
)

// Wire tokens for each mode.
const (
	tokenManual    = "manual"
	tokenAutomatic = "auto"
	tokenScheduled = "programmed"
)

// Token returns the wire token published on the mode topic.
func (m Mode) Token() string {
	switch m {
	case ModeAutomatic:
		return tokenAutomatic
	case ModeScheduled:
		return tokenScheduled
	default:
		return tokenManual
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string { return m.Token() }

// ParseMode maps a wire token to a Mode.
func ParseMode(token string) (Mode, error) {
	switch token {
	case tokenManual:
		return ModeManual, nil
	case tokenAutomatic:
		return ModeAutomatic, nil
	case tokenScheduled:
		return ModeScheduled, nil
	default:
		return ModeManual, fmt.Errorf("%w: %q", ErrUnknownMode, token)
	}
}

// ParseModeInput parses a mode token from user input, tolerating case and
// surrounding whitespace.
func ParseModeInput(token string) (Mode, error) {
	return ParseMode(strings.ToLower(strings.TrimSpace(token)))
}

// MarshalText encodes the mode as its wire token.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.Token()), nil
}

// UnmarshalText decodes a wire token.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ConnectionState tracks the messaging session.
//
//	Disconnected --connect--> Connecting --success--> Connected
//	Connecting --failure--> Disconnected (retry scheduled)
//	Connected --lost--> Disconnected (retry scheduled)
type ConnectionState int

// ConnectionState values.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (c ConnectionState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText encodes the state as its lowercase name.
func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ActuatorState is the reconciled belief about the shade.
type ActuatorState struct {
	// Position is always within [MinPosition, MaxPosition].
	Position int

	Mode       Mode
	Connection ConnectionState

	// LastConfirmedAt is when a device-originated position was last accepted.
	// Zero until the first confirmation.
	LastConfirmedAt time.Time
}

// IsOpen reports whether the shade is open at all.
func (s ActuatorState) IsOpen() bool {
	return s.Position > 0
}

// SensorReadings holds the latest environment telemetry. Nil fields have not
// been reported since startup. Readings are never persisted.
type SensorReadings struct {
	InteriorTemp *float64 `json:"interior_temp,omitempty"`
	ExteriorTemp *float64 `json:"exterior_temp,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Luminosity   *float64 `json:"luminosity,omitempty"`

	// Weather is the description from the last weather payload, if any.
	Weather string `json:"weather,omitempty"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s SensorReadings) equal(o SensorReadings) bool {
	return floatPtrEqual(s.InteriorTemp, o.InteriorTemp) &&
		floatPtrEqual(s.ExteriorTemp, o.ExteriorTemp) &&
		floatPtrEqual(s.Humidity, o.Humidity) &&
		floatPtrEqual(s.Luminosity, o.Luminosity) &&
		s.Weather == o.Weather
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Preset is a named target position. The JSON field names match the
// persisted presetsPersiana layout.
type Preset struct {
	Name  string `json:"nombre"`
	Value int    `json:"valor"`
}

// Snapshot is an immutable view of the reconciler state handed to observers.
type Snapshot struct {
	Position        int             `json:"position"`
	IsOpen          bool            `json:"is_open"`
	Mode            Mode            `json:"mode"`
	Connection      ConnectionState `json:"connection"`
	LastConfirmedAt *time.Time      `json:"last_confirmed_at,omitempty"`
	Sensors         SensorReadings  `json:"sensors"`
	PendingCommands int             `json:"pending_commands"`
}

// sameVisibleState reports whether two snapshots would render identically.
// Timestamps and the pending count are ignored.
func (s Snapshot) sameVisibleState(o Snapshot) bool {
	return s.Position == o.Position &&
		s.Mode == o.Mode &&
		s.Connection == o.Connection &&
		s.Sensors.equal(o.Sensors)
}

// NoticeKind classifies an advisory notice.
type NoticeKind string

// Notice kinds. All are advisory and dismissible.
const (
	NoticeConnected      NoticeKind = "connected"
	NoticeConnectFailed  NoticeKind = "connect_failed"
	NoticeConnectionLost NoticeKind = "connection_lost"
	NoticeReconnecting   NoticeKind = "reconnecting"
	NoticeNotConnected   NoticeKind = "not_connected"
)

// Notice is a user-facing transport status message.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`

	// RetryIn is how long until the next automatic connection attempt, zero
	// when none is scheduled.
	RetryIn time.Duration `json:"-"`

	At time.Time `json:"at"`
}

// MarshalJSON adds retry_in_ms so clients can show when the next attempt
// happens.
func (n Notice) MarshalJSON() ([]byte, error) {
	type plain Notice
	return json.Marshal(struct {
		plain
		RetryInMS int64 `json:"retry_in_ms"`
	}{plain: plain(n), RetryInMS: n.RetryIn.Milliseconds()})
}

// Observer receives state changes and notices.
//
// Callbacks run on the reconciler goroutine. They must return quickly and
// must not call back into the Reconciler.
type Observer interface {
	StateChanged(Snapshot)
	Notice(Notice)
}
