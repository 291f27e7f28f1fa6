package shade

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/shade-core/internal/infrastructure/mqtt"
)

// stateRequestCommand is the command value of a state request.
const stateRequestCommand = "getEstado"

// MessageKind identifies what an inbound message carries.
type MessageKind int

// MessageKind values.
const (
	KindState MessageKind = iota + 1
	KindPosition
	KindEcho
	KindMode
	KindTemperature
	KindHumidity
	KindLuminosity
	KindWeather
)

// String implements fmt.Stringer.
func (k MessageKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindPosition:
		return "position"
	case KindEcho:
		return "echo"
	case KindMode:
		return "mode"
	case KindTemperature:
		return "temperature"
	case KindHumidity:
		return "humidity"
	case KindLuminosity:
		return "luminosity"
	case KindWeather:
		return "weather"
	default:
		return "unknown"
	}
}

// Message is the typed result of decoding one inbound payload. Only the
// field matching Kind is meaningful.
type Message struct {
	Kind MessageKind

	// Position is the reported position for state, position and echo,
	// already clamped to [MinPosition, MaxPosition].
	Position int

	Mode Mode

	// Value is the reading for temperature, humidity and luminosity.
	Value float64

	Weather Weather
}

// Weather is the external weather report.
type Weather struct {
	Temperature *float64
	Humidity    *float64
	Description string
}

// statePayload is the state topic payload. Numeric fields are held as
// decoded JSON values and checked by numberValue, so numbers sent as
// strings are accepted while booleans and empty strings are not.
type statePayload struct {
	Apertura any `mapstructure:"apertura"`
	Comando  any `mapstructure:"comando"`
}

// weatherPayload is the weather topic payload.
type weatherPayload struct {
	Temperature any `mapstructure:"temperature"`
	Humidity    any `mapstructure:"humidity"`
	Description any `mapstructure:"description"`
}

type decodeFunc func(payload []byte) (Message, error)

// Decoder maps topics to typed decoders.
type Decoder struct {
	table map[string]decodeFunc
}

// NewDecoder builds the dispatch table for a topic set.
func NewDecoder(topics mqtt.Topics) *Decoder {
	return &Decoder{table: map[string]decodeFunc{
		topics.State():       decodeState,
		topics.Position():    positionDecoder(KindPosition),
		topics.Set():         positionDecoder(KindEcho),
		topics.Mode():        decodeMode,
		topics.Temperature(): readingDecoder(KindTemperature),
		topics.Humidity():    readingDecoder(KindHumidity),
		topics.Luminosity():  readingDecoder(KindLuminosity),
		topics.Weather():     decodeWeather,
	}}
}

// Handles reports whether topic has a decoder.
func (d *Decoder) Handles(topic string) bool {
	_, ok := d.table[topic]
	return ok
}

// Decode converts a raw message into a Message.
//
// Returns:
//   - Message: Valid only when error is nil
//   - error: ErrUnhandledTopic, ErrStateRequest, or wraps ErrMalformedPayload
func (d *Decoder) Decode(topic string, payload []byte) (Message, error) {
	decode, ok := d.table[topic]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnhandledTopic, topic)
	}
	return decode(payload)
}

func malformed(kind MessageKind, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, kind, err)
}

// decodeJSONObject parses payload as a JSON object and decodes it into out
// without weak type conversion.
func decodeJSONObject(payload []byte, out any) error {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("not an object")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// numberValue accepts a JSON number or a numeric string. Booleans, empty
// strings and non-finite values are rejected.
func numberValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not finite: %v", n)
		}
		return n, nil
	case string:
		return parseFinite(n)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func decodeState(payload []byte) (Message, error) {
	var state statePayload
	if err := decodeJSONObject(payload, &state); err != nil {
		return Message{}, malformed(KindState, err)
	}
	if state.Apertura == nil {
		if state.Comando == stateRequestCommand {
			return Message{}, ErrStateRequest
		}
		return Message{}, malformed(KindState, errors.New("missing apertura"))
	}
	f, err := numberValue(state.Apertura)
	if err != nil {
		return Message{}, malformed(KindState, fmt.Errorf("apertura: %w", err))
	}
	return Message{Kind: KindState, Position: positionFromFloat(f)}, nil
}

// positionFromFloat clamps before converting so huge values cannot
// overflow. Fractions are truncated.
func positionFromFloat(f float64) int {
	switch {
	case f <= MinPosition:
		return MinPosition
	case f >= MaxPosition:
		return MaxPosition
	default:
		return int(f)
	}
}

// parsePosition parses a bare number as a clamped position.
func parsePosition(payload []byte) (int, error) {
	f, err := parseFinite(string(payload))
	if err != nil {
		return 0, err
	}
	return positionFromFloat(f), nil
}

func parseFinite(text string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", text)
	}
	return f, nil
}

func positionDecoder(kind MessageKind) decodeFunc {
	return func(payload []byte) (Message, error) {
		n, err := parsePosition(payload)
		if err != nil {
			return Message{}, malformed(kind, err)
		}
		return Message{Kind: kind, Position: n}, nil
	}
}

func decodeMode(payload []byte) (Message, error) {
	mode, err := ParseMode(strings.TrimSpace(string(payload)))
	if err != nil {
		return Message{}, malformed(KindMode, err)
	}
	return Message{Kind: KindMode, Mode: mode}, nil
}

func readingDecoder(kind MessageKind) decodeFunc {
	return func(payload []byte) (Message, error) {
		f, err := parseFinite(string(payload))
		if err != nil {
			return Message{}, malformed(kind, err)
		}
		return Message{Kind: kind, Value: f}, nil
	}
}

func decodeWeather(payload []byte) (Message, error) {
	var raw weatherPayload
	if err := decodeJSONObject(payload, &raw); err != nil {
		return Message{}, malformed(KindWeather, err)
	}
	if raw.Temperature == nil {
		return Message{}, malformed(KindWeather, errors.New("missing temperature"))
	}

	var weather Weather
	temperature, err := numberValue(raw.Temperature)
	if err != nil {
		return Message{}, malformed(KindWeather, fmt.Errorf("temperature: %w", err))
	}
	weather.Temperature = &temperature

	if raw.Humidity != nil {
		humidity, err := numberValue(raw.Humidity)
		if err != nil {
			return Message{}, malformed(KindWeather, fmt.Errorf("humidity: %w", err))
		}
		weather.Humidity = &humidity
	}
	if raw.Description != nil {
		description, ok := raw.Description.(string)
		if !ok {
			return Message{}, malformed(KindWeather, errors.New("description is not a string"))
		}
		weather.Description = description
	}
	return Message{Kind: KindWeather, Weather: weather}, nil
}
