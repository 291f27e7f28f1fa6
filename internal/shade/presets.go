package shade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/shade-core/internal/store"
)

// DefaultPresets returns the built-in preset list: closed, half and open.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "Cerrada", Value: 0},
		{Name: "Media", Value: 50},
		{Name: "Abierta", Value: 100},
	}
}

// PresetManager maintains the ordered preset list and persists it as a
// whole on every mutation.
//
// Thread Safety: not safe for concurrent use. The Reconciler calls it from
// its event loop only.
type PresetManager struct {
	kv       store.KV
	defaults []Preset
	presets  []Preset
	logger   Logger
}

// NewPresetManager creates a preset manager. An empty defaults list uses
// DefaultPresets.
func NewPresetManager(kv store.KV, defaults []Preset, logger Logger) *PresetManager {
	if len(defaults) == 0 {
		defaults = DefaultPresets()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	m := &PresetManager{
		kv:       kv,
		defaults: clonePresets(defaults),
		logger:   logger,
	}
	m.presets = clonePresets(m.defaults)
	return m
}

// Load replaces the in-memory list with the persisted one. A missing,
// unreadable or malformed entry leaves the defaults in place.
func (m *PresetManager) Load(ctx context.Context) {
	m.presets = clonePresets(m.defaults)

	if m.kv == nil {
		return
	}
	raw, ok, err := m.kv.Get(ctx, store.KeyPresets)
	if err != nil {
		m.logger.Warn("loading presets failed, using defaults", "error", err)
		return
	}
	if !ok {
		return
	}
	presets, err := DecodePresets(raw)
	if err != nil {
		m.logger.Warn("stored presets malformed, using defaults", "error", err)
		return
	}
	m.presets = presets
}

// List returns a copy of the preset list in order.
func (m *PresetManager) List() []Preset {
	return clonePresets(m.presets)
}

// At returns the preset at index.
func (m *PresetManager) At(index int) (Preset, error) {
	if index < 0 || index >= len(m.presets) {
		return Preset{}, fmt.Errorf("%w: index %d", ErrPresetNotFound, index)
	}
	return m.presets[index], nil
}

// Save appends a preset and persists the whole list. The value is clamped.
// A blank name is rejected and the list is left unchanged.
//
// Returns:
//   - Preset: The stored preset
//   - error: ErrInvalidPresetName for a blank name
func (m *PresetManager) Save(ctx context.Context, name string, value int) (Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Preset{}, ErrInvalidPresetName
	}

	preset := Preset{Name: name, Value: Clamp(value)}
	m.presets = append(m.presets, preset)
	m.persist(ctx)
	return preset, nil
}

// persist writes the whole list. Failures are logged only.
func (m *PresetManager) persist(ctx context.Context) {
	if m.kv == nil {
		return
	}
	raw, err := EncodePresets(m.presets)
	if err != nil {
		m.logger.Error("encoding presets failed", "error", err)
		return
	}
	if err := m.kv.Set(ctx, store.KeyPresets, raw); err != nil {
		m.logger.Error("persisting presets failed", "error", err)
	}
}

// EncodePresets serialises presets in the stored {nombre, valor} layout.
func EncodePresets(presets []Preset) (string, error) {
	if presets == nil {
		presets = []Preset{}
	}
	data, err := json.Marshal(presets)
	if err != nil {
		return "", fmt.Errorf("encoding presets: %w", err)
	}
	return string(data), nil
}

// DecodePresets parses the stored layout, clamping each value.
func DecodePresets(raw string) ([]Preset, error) {
	var presets []Preset
	if err := json.Unmarshal([]byte(raw), &presets); err != nil {
		return nil, fmt.Errorf("decoding presets: %w", err)
	}
	if presets == nil {
		return nil, fmt.Errorf("decoding presets: not an array")
	}
	for i := range presets {
		presets[i].Value = Clamp(presets[i].Value)
	}
	return presets, nil
}

func clonePresets(in []Preset) []Preset {
	out := make([]Preset, len(in))
	copy(out, in)
	return out
}
