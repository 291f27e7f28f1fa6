package shade

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResolutionPolicy decides what happens when a position command is not
// confirmed as issued.
type ResolutionPolicy string

const (
	// PolicyLastWriteWins accepts whatever the device last reported. An
	// unconfirmed command keeps its optimistic value.
	PolicyLastWriteWins ResolutionPolicy = "last_write_wins"

	// PolicyReassertLatest republishes the most recent command when it is
	// contradicted or times out, up to maxReassertAttempts times.
	PolicyReassertLatest ResolutionPolicy = "reassert_latest"
)

// maxReassertAttempts bounds republishing of a single target.
const maxReassertAttempts = 3

// ParseResolutionPolicy validates a policy name. Empty means last-write-wins.
func ParseResolutionPolicy(name string) (ResolutionPolicy, error) {
	switch ResolutionPolicy(name) {
	case "", PolicyLastWriteWins:
		return PolicyLastWriteWins, nil
	case PolicyReassertLatest:
		return PolicyReassertLatest, nil
	default:
		return "", fmt.Errorf("unknown resolution policy %q", name)
	}
}

// CommandState is the lifecycle of one position command.
//
//	Issued --device reports target------> ConfirmedMatch
//	Issued --device reports other value--> ConfirmedMismatch
//	Issued --confirm timeout-------------> TimedOutUnconfirmed
type CommandState int

// CommandState values.
const (
	CommandIssued CommandState = iota
	CommandConfirmedMatch
	CommandConfirmedMismatch
	CommandTimedOut
)

// String implements fmt.Stringer. The names double as telemetry outcomes.
func (s CommandState) String() string {
	switch s {
	case CommandConfirmedMatch:
		return "confirmed_match"
	case CommandConfirmedMismatch:
		return "confirmed_mismatch"
	case CommandTimedOut:
		return "timed_out_unconfirmed"
	default:
		return "issued"
	}
}

// PendingCommand tracks one published position command.
type PendingCommand struct {
	ID       string
	Target   int
	Attempt  int
	IssuedAt time.Time

	State      CommandState
	Observed   int
	ResolvedAt time.Time
}

// Resolved reports whether the command has left the Issued state.
func (c *PendingCommand) Resolved() bool {
	return c.State != CommandIssued
}

// pendingTracker holds unresolved commands in issue order.
type pendingTracker struct {
	issued []*PendingCommand
}

// issue registers a new command.
func (p *pendingTracker) issue(target, attempt int, now time.Time) *PendingCommand {
	cmd := &PendingCommand{
		ID:       uuid.NewString(),
		Target:   target,
		Attempt:  attempt,
		IssuedAt: now,
		State:    CommandIssued,
	}
	p.issued = append(p.issued, cmd)
	return cmd
}

// latest returns the most recently issued unresolved command.
func (p *pendingTracker) latest() *PendingCommand {
	if len(p.issued) == 0 {
		return nil
	}
	return p.issued[len(p.issued)-1]
}

// isLatest reports whether cmd is the newest command still issued.
func (p *pendingTracker) isLatest(cmd *PendingCommand) bool {
	return p.latest() == cmd
}

// confirm resolves every issued command against a device report.
//
// Returns:
//   - []*PendingCommand: Commands resolved by this report, oldest first
//   - *PendingCommand: The newest of them, nil when nothing was pending
func (p *pendingTracker) confirm(observed int, now time.Time) ([]*PendingCommand, *PendingCommand) {
	if len(p.issued) == 0 {
		return nil, nil
	}
	resolved := p.issued
	p.issued = nil

	for _, cmd := range resolved {
		cmd.Observed = observed
		cmd.ResolvedAt = now
		if cmd.Target == observed {
			cmd.State = CommandConfirmedMatch
		} else {
			cmd.State = CommandConfirmedMismatch
		}
	}
	return resolved, resolved[len(resolved)-1]
}

// timeout resolves cmd as unconfirmed if it is still issued.
//
// Returns:
//   - bool: true when cmd transitioned, false if it was already resolved
//   - bool: true when cmd was the newest issued command at the time
func (p *pendingTracker) timeout(cmd *PendingCommand, now time.Time) (transitioned, wasLatest bool) {
	if cmd.Resolved() {
		return false, false
	}
	wasLatest = p.isLatest(cmd)
	for i, c := range p.issued {
		if c == cmd {
			p.issued = append(p.issued[:i], p.issued[i+1:]...)
			break
		}
	}
	cmd.State = CommandTimedOut
	cmd.Observed = cmd.Target
	cmd.ResolvedAt = now
	return true, wasLatest
}

// count returns the number of unresolved commands.
func (p *pendingTracker) count() int {
	return len(p.issued)
}

// shouldReassert applies the resolution policy to the newest command after
// it resolved.
func shouldReassert(policy ResolutionPolicy, cmd *PendingCommand) bool {
	if policy != PolicyReassertLatest || cmd == nil {
		return false
	}
	if cmd.State != CommandConfirmedMismatch && cmd.State != CommandTimedOut {
		return false
	}
	return cmd.Attempt < maxReassertAttempts
}
