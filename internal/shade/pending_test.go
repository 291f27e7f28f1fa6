package shade

import (
	"testing"
	"time"
)

func TestParseResolutionPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    ResolutionPolicy
		wantErr bool
	}{
		{"", PolicyLastWriteWins, false},
		{"last_write_wins", PolicyLastWriteWins, false},
		{"reassert_latest", PolicyReassertLatest, false},
		{"majority", "", true},
	}
	for _, tt := range tests {
		got, err := ParseResolutionPolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseResolutionPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseResolutionPolicy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPendingTracker_ConfirmMatchAndMismatch(t *testing.T) {
	var p pendingTracker
	now := time.Unix(1000, 0)

	first := p.issue(30, 1, now)
	second := p.issue(60, 1, now)
	if p.count() != 2 || !p.isLatest(second) {
		t.Fatalf("count = %d, latest = %v", p.count(), p.latest())
	}

	resolved, newest := p.confirm(60, now.Add(time.Second))
	if len(resolved) != 2 || newest != second {
		t.Fatalf("confirm() = %d resolved, newest %v", len(resolved), newest)
	}
	if first.State != CommandConfirmedMismatch {
		t.Errorf("first.State = %v, want confirmed_mismatch", first.State)
	}
	if second.State != CommandConfirmedMatch {
		t.Errorf("second.State = %v, want confirmed_match", second.State)
	}
	if p.count() != 0 {
		t.Errorf("count() = %d after confirm, want 0", p.count())
	}

	if resolved, newest := p.confirm(10, now); resolved != nil || newest != nil {
		t.Error("confirm() with nothing pending should return nil")
	}
}

func TestPendingTracker_Timeout(t *testing.T) {
	var p pendingTracker
	now := time.Unix(1000, 0)

	older := p.issue(30, 1, now)
	newer := p.issue(60, 1, now)

	transitioned, wasLatest := p.timeout(older, now.Add(5*time.Second))
	if !transitioned || wasLatest {
		t.Errorf("timeout(older) = %v, %v, want true, false", transitioned, wasLatest)
	}
	if older.State != CommandTimedOut {
		t.Errorf("older.State = %v", older.State)
	}

	transitioned, wasLatest = p.timeout(newer, now.Add(5*time.Second))
	if !transitioned || !wasLatest {
		t.Errorf("timeout(newer) = %v, %v, want true, true", transitioned, wasLatest)
	}

	// Already resolved commands do not transition again.
	if transitioned, _ := p.timeout(newer, now); transitioned {
		t.Error("timeout() transitioned a resolved command")
	}
}

func TestPendingTracker_TimeoutAfterConfirm(t *testing.T) {
	var p pendingTracker
	cmd := p.issue(40, 1, time.Now())
	p.confirm(40, time.Now())

	if transitioned, _ := p.timeout(cmd, time.Now()); transitioned {
		t.Error("timeout() after confirm should be a no-op")
	}
	if cmd.State != CommandConfirmedMatch {
		t.Errorf("State = %v, want confirmed_match", cmd.State)
	}
}

func TestShouldReassert(t *testing.T) {
	tests := []struct {
		name   string
		policy ResolutionPolicy
		cmd    *PendingCommand
		want   bool
	}{
		{"nil command", PolicyReassertLatest, nil, false},
		{"lww mismatch", PolicyLastWriteWins, &PendingCommand{State: CommandConfirmedMismatch, Attempt: 1}, false},
		{"reassert mismatch", PolicyReassertLatest, &PendingCommand{State: CommandConfirmedMismatch, Attempt: 1}, true},
		{"reassert timeout", PolicyReassertLatest, &PendingCommand{State: CommandTimedOut, Attempt: 2}, true},
		{"reassert match", PolicyReassertLatest, &PendingCommand{State: CommandConfirmedMatch, Attempt: 1}, false},
		{"attempts exhausted", PolicyReassertLatest, &PendingCommand{State: CommandTimedOut, Attempt: maxReassertAttempts}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldReassert(tt.policy, tt.cmd); got != tt.want {
				t.Errorf("shouldReassert() = %v, want %v", got, tt.want)
			}
		})
	}
}
