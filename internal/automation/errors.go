package automation

import "errors"

// Domain errors for the automation package.
var (
	// ErrInvalidEntry is returned when a schedule entry cannot be registered.
	ErrInvalidEntry = errors.New("schedule: invalid entry")

	// ErrUnknownPreset is returned when an entry names a preset that does not
	// exist at fire time.
	ErrUnknownPreset = errors.New("schedule: unknown preset")

	// ErrEntryNotFound is returned when triggering an entry index that does
	// not exist.
	ErrEntryNotFound = errors.New("schedule: entry not found")
)
