package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/shade-core/internal/shade"
)

// fireTimeout bounds a single scheduled application.
const fireTimeout = 10 * time.Second

// Shade is what the scheduler needs from the reconciler.
type Shade interface {
	// Presets returns the current ordered preset list.
	Presets(ctx context.Context) ([]shade.Preset, error)

	// ApplyScheduled sets a position only while the mode is Scheduled.
	ApplyScheduled(ctx context.Context, value int) (bool, error)
}

// Entry is one scheduled target. Exactly one of Preset or Position is set.
type Entry struct {
	Spec     string
	Preset   string
	Position *int
}

// Target describes the entry's target for logs and the API.
func (e Entry) Target() string {
	if e.Position != nil {
		return "position:" + strconv.Itoa(*e.Position)
	}
	return "preset:" + e.Preset
}

// EntryStatus is an entry with its next fire time.
type EntryStatus struct {
	Index  int       `json:"index"`
	Cron   string    `json:"cron"`
	Target string    `json:"target"`
	Next   time.Time `json:"next"`
}

// Outcome is the result of one firing.
type Outcome string

// Outcome values.
const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Scheduler fires schedule entries against the shade.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	shade    Shade
	cron     *cron.Cron
	entries  []Entry
	ids      []cron.EntryID
	location *time.Location
	logger   Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler validates and registers entries. Nothing fires until Start.
//
// Parameters:
//   - target: The shade to drive
//   - entries: Schedule entries in configuration order
//   - location: Time zone for cron expressions (nil means time.Local)
//   - logger: Logger instance (may be nil)
//
// Returns:
//   - *Scheduler: Ready to Start
//   - error: ErrInvalidEntry naming the first bad entry
func NewScheduler(target Shade, entries []Entry, location *time.Location, logger Logger) (*Scheduler, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if location == nil {
		location = time.Local
	}

	s := &Scheduler{
		shade:    target,
		cron:     cron.New(cron.WithLocation(location)),
		location: location,
		logger:   logger,
	}

	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("%w: entries[%d]: %w", ErrInvalidEntry, i, err)
		}
		entry := e
		id, err := s.cron.AddFunc(entry.Spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
			defer cancel()
			s.fire(ctx, entry) //nolint:errcheck // Outcome is logged
		})
		if err != nil {
			return nil, fmt.Errorf("%w: entries[%d]: %w", ErrInvalidEntry, i, err)
		}
		s.entries = append(s.entries, entry)
		s.ids = append(s.ids, id)
	}

	return s, nil
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Spec) == "" {
		return errors.New("cron expression is required")
	}
	if (strings.TrimSpace(e.Preset) == "") == (e.Position == nil) {
		return errors.New("exactly one of preset or position is required")
	}
	if e.Position != nil && (*e.Position < shade.MinPosition || *e.Position > shade.MaxPosition) {
		return fmt.Errorf("position %d out of range", *e.Position)
	}
	return nil
}

// ParseLocation resolves a configured time zone. Empty and "Local" mean the
// host zone.
func ParseLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}
	return loc, nil
}

// Start begins firing entries. Calling Start twice has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("schedule started", "entries", len(s.entries), "timezone", s.location.String())
}

// Stop halts the scheduler and waits for running firings or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("schedule stop timed out")
	}
}

// Entries returns every entry with its next fire time. Next is zero until
// the scheduler has started.
func (s *Scheduler) Entries() []EntryStatus {
	out := make([]EntryStatus, 0, len(s.entries))
	for i, e := range s.entries {
		out = append(out, EntryStatus{
			Index:  i,
			Cron:   e.Spec,
			Target: e.Target(),
			Next:   s.cron.Entry(s.ids[i]).Next,
		})
	}
	return out
}

// Trigger fires the entry at index immediately, with the same mode check
// as a timed firing.
func (s *Scheduler) Trigger(ctx context.Context, index int) (Outcome, error) {
	if index < 0 || index >= len(s.entries) {
		return OutcomeFailed, fmt.Errorf("%w: %d", ErrEntryNotFound, index)
	}
	return s.fire(ctx, s.entries[index])
}

// fire resolves and applies one entry.
func (s *Scheduler) fire(ctx context.Context, e Entry) (Outcome, error) {
	value, err := s.resolve(ctx, e)
	if err != nil {
		s.logger.Warn("scheduled entry not applied", "cron", e.Spec, "target", e.Target(), "error", err)
		return OutcomeFailed, err
	}

	applied, err := s.shade.ApplyScheduled(ctx, value)
	switch {
	case err != nil:
		s.logger.Warn("scheduled entry failed", "cron", e.Spec, "target", e.Target(), "error", err)
		return OutcomeFailed, err
	case !applied:
		s.logger.Debug("scheduled entry skipped, mode is not scheduled", "cron", e.Spec, "target", e.Target())
		return OutcomeSkipped, nil
	default:
		s.logger.Info("scheduled entry applied", "cron", e.Spec, "target", e.Target(), "position", value)
		return OutcomeApplied, nil
	}
}

// resolve returns the position for an entry. Presets match by name, first
// match wins, ignoring case.
func (s *Scheduler) resolve(ctx context.Context, e Entry) (int, error) {
	if e.Position != nil {
		return *e.Position, nil
	}

	presets, err := s.shade.Presets(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing presets: %w", err)
	}
	name := strings.TrimSpace(e.Preset)
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, e.Preset)
}
