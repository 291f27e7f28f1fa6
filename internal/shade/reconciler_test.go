package shade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/shade-core/internal/store"
)

const (
	topicState    = "sensores/motor/estado"
	topicPosition = "sensores/motor/position"
	topicSet      = "sensores/motor/set"
	topicMode     = "sensores/motor/mode"
)

var errBrokerDown = errors.New("connection refused")

// ===== Startup =====

func TestReconciler_LoadsPersistedPosition(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		want   int
	}{
		{"plain", "42", 42},
		{"above range", "150", 100},
		{"below range", "-3", 0},
		{"decimal", "42.9", 42},
		{"garbage", "abc", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startHarness(t, Config{}, func(h *harness) {
				h.dialer.setErr(errBrokerDown)
				h.kv.MemoryKV.Set(context.Background(), store.KeyPosition, tt.stored) //nolint:errcheck // memory store
			})

			snap := h.snapshot(t)
			if snap.Position != tt.want {
				t.Errorf("Position = %d, want %d", snap.Position, tt.want)
			}
			if snap.IsOpen != (tt.want > 0) {
				t.Errorf("IsOpen = %v for position %d", snap.IsOpen, tt.want)
			}
		})
	}
}

func TestReconciler_ConnectSubscribesAndRequestsState(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	patterns := ch.patterns()
	if len(patterns) != 9 {
		t.Errorf("subscriptions = %v, want 9", patterns)
	}
	if patterns[len(patterns)-1] != "sensores/motor/+" {
		t.Errorf("last subscription = %q, want wildcard", patterns[len(patterns)-1])
	}

	requests := ch.publishedTo(topicState)
	if len(requests) != 1 || requests[0].payload != `{"comando":"getEstado"}` {
		t.Errorf("state requests = %+v", requests)
	}
	if len(h.obs.noticesOf(NoticeConnected)) != 1 {
		t.Error("expected a connected notice")
	}
}

// ===== Inbound telemetry =====

func TestReconciler_StateReportIsPersisted(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	ch.deliver(topicState, `{"apertura":42}`)
	snap := h.snapshot(t)

	if snap.Position != 42 || !snap.IsOpen {
		t.Errorf("snapshot = %+v, want open at 42", snap)
	}
	if snap.LastConfirmedAt == nil {
		t.Error("LastConfirmedAt not set by device report")
	}
	if got := h.kv.value(t, store.KeyPosition); got != "42" {
		t.Errorf("stored position = %q, want \"42\"", got)
	}

	entries, err := h.history.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent() = %v, %v", entries, err)
	}
	if entries[0].Position != 42 || entries[0].Source != store.SourceState {
		t.Errorf("history = %+v, want 42 from state", entries[0])
	}
}

func TestReconciler_ClampsReports(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	ch.deliver(topicPosition, "150")
	if snap := h.snapshot(t); snap.Position != 100 || !snap.IsOpen {
		t.Errorf("after 150: %+v, want 100 open", snap)
	}

	ch.deliver(topicPosition, "-20")
	if snap := h.snapshot(t); snap.Position != 0 || snap.IsOpen {
		t.Errorf("after -20: %+v, want 0 closed", snap)
	}

	ch.deliver(topicState, `{"apertura":1e30}`)
	if snap := h.snapshot(t); snap.Position != 100 {
		t.Errorf("after 1e30: position = %d, want 100", snap.Position)
	}

	ch.deliver(topicPosition, "1e10")
	ch.deliver(topicState, `{"apertura":-1e30}`)
	if snap := h.snapshot(t); snap.Position != 0 {
		t.Errorf("after -1e30: position = %d, want 0", snap.Position)
	}
}

func TestReconciler_MalformedPayloadsIgnored(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)
	ch.deliver(topicPosition, "30")
	before := h.snapshot(t)
	notified := h.obs.stateCount()
	historyBefore := len(h.historyEntries(t))

	for _, m := range []struct{ topic, payload string }{
		{topicPosition, "abc"},
		{topicState, "{broken"},
		{topicState, `{"apertura":""}`},
		{topicState, `{"apertura":false}`},
		{topicState, `{"apertura":true}`},
		{topicState, `{"apertura":"NaN"}`},
		{"sensores/weather", `{"temperature":""}`},
		{"sensores/weather", `{"temperature":false}`},
		{topicState, `{"comando":"getEstado"}`},
		{topicSet, "half"},
		{topicMode, "turbo"},
		{"sensores/temperature", "hot"},
		{"sensores/motor/unknown", "1"},
	} {
		ch.deliver(m.topic, m.payload)
	}

	after := h.snapshot(t)
	if after.Position != before.Position || after.Mode != before.Mode {
		t.Errorf("state changed by malformed input: %+v -> %+v", before, after)
	}
	if after.Sensors.ExteriorTemp != nil {
		t.Errorf("ExteriorTemp = %v, want unset", *after.Sensors.ExteriorTemp)
	}
	if got := h.kv.value(t, store.KeyPosition); got != "30" {
		t.Errorf("stored position = %q, want 30", got)
	}
	if got := len(h.historyEntries(t)); got != historyBefore {
		t.Errorf("history entries = %d, want %d", got, historyBefore)
	}
	if h.obs.stateCount() != notified {
		t.Errorf("observers notified %d times by malformed input", h.obs.stateCount()-notified)
	}
}

func TestReconciler_RepeatedReportsNotifyOnce(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)
	base := h.obs.stateCount()

	ch.deliver(topicState, `{"apertura":42}`)
	ch.deliver(topicState, `{"apertura":42}`)
	ch.deliver(topicPosition, "42")
	h.snapshot(t)

	if got := h.obs.stateCount() - base; got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestReconciler_WildcardDoesNotDuplicate(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	ch.deliver(topicPosition, "42")
	h.snapshot(t)

	if got := h.kv.setCount(store.KeyPosition); got != 1 {
		t.Errorf("position writes = %d, want 1", got)
	}
}

func TestReconciler_Sensors(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	ch.deliver("sensores/temperature", "21.5")
	ch.deliver("sensores/humidity", "40")
	ch.deliver("sensores/luminosity", "300")
	ch.deliver("sensores/weather", `{"temperature":15,"description":"rain"}`)
	s := h.snapshot(t).Sensors

	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"InteriorTemp", s.InteriorTemp, 21.5},
		{"Humidity", s.Humidity, 40},
		{"Luminosity", s.Luminosity, 300},
		{"ExteriorTemp", s.ExteriorTemp, 15},
	}
	for _, c := range checks {
		if c.got == nil || *c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if s.Weather != "rain" || s.UpdatedAt == nil {
		t.Errorf("Weather = %q, UpdatedAt = %v", s.Weather, s.UpdatedAt)
	}
	if h.kv.setCount(store.KeyPosition) != 0 {
		t.Error("sensor readings touched the store")
	}
}

func TestReconciler_InboundMode(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	ch.deliver(topicMode, "auto")
	if got := h.snapshot(t).Mode; got != ModeAutomatic {
		t.Errorf("Mode = %v, want auto", got)
	}
}

// ===== Commands =====

func TestReconciler_TogglePublishesBeforeConfirmation(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	snap, err := h.r.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	sets := ch.publishedTo(topicSet)
	if len(sets) != 1 || sets[0].payload != "100" || sets[0].qos != 1 {
		t.Fatalf("set publishes = %+v, want one \"100\" at QoS 1", sets)
	}
	if snap.Position != 100 || !snap.IsOpen {
		t.Errorf("snapshot = %+v, want optimistic 100", snap)
	}
	if snap.LastConfirmedAt != nil {
		t.Error("LastConfirmedAt set without a device report")
	}
	if snap.PendingCommands != 1 {
		t.Errorf("PendingCommands = %d, want 1", snap.PendingCommands)
	}
	if got := h.kv.value(t, store.KeyPosition); got != "100" {
		t.Errorf("stored position = %q, want optimistic \"100\"", got)
	}

	snap, err = h.r.Toggle(context.Background())
	if err != nil || snap.Position != 0 {
		t.Errorf("second Toggle() = %d, %v, want 0", snap.Position, err)
	}
}

func TestReconciler_SetPositionClamps(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	snap, err := h.r.SetPosition(context.Background(), 180)
	if err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if snap.Position != 100 {
		t.Errorf("Position = %d, want 100", snap.Position)
	}
	if sets := ch.publishedTo(topicSet); sets[0].payload != "100" {
		t.Errorf("published %q, want \"100\"", sets[0].payload)
	}
}

func TestReconciler_CommandWhileDisconnected(t *testing.T) {
	h := startHarness(t, Config{}, func(h *harness) {
		h.dialer.setErr(errBrokerDown)
		h.kv.MemoryKV.Set(context.Background(), store.KeyPosition, "30") //nolint:errcheck // memory store
	})
	waitFor(t, "first attempt", func() bool { return h.dialer.attemptCount() >= 1 })

	if _, err := h.r.SetPosition(context.Background(), 80); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetPosition() error = %v, want ErrNotConnected", err)
	}
	if got := h.snapshot(t).Position; got != 30 {
		t.Errorf("Position = %d, want unchanged 30", got)
	}
	if h.kv.setCount(store.KeyPosition) != 0 {
		t.Error("position persisted while disconnected")
	}
	if len(h.obs.noticesOf(NoticeNotConnected)) == 0 {
		t.Error("expected a not_connected notice")
	}

	if _, err := h.r.Toggle(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Toggle() error = %v, want ErrNotConnected", err)
	}
	if _, err := h.r.SetMode(context.Background(), ModeAutomatic); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetMode() error = %v, want ErrNotConnected", err)
	}
}

func TestReconciler_ConfirmationRequestAfterDelay(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	h.clock.Advance(499 * time.Millisecond)
	h.snapshot(t)
	if got := len(ch.publishedTo(topicState)); got != 1 {
		t.Fatalf("state requests before delay = %d, want 1", got)
	}

	h.clock.Advance(time.Millisecond)
	h.snapshot(t)
	if got := len(ch.publishedTo(topicState)); got != 2 {
		t.Errorf("state requests after delay = %d, want 2", got)
	}

	ch.deliver(topicState, `{"apertura":60}`)
	snap := h.snapshot(t)
	if snap.PendingCommands != 0 || snap.LastConfirmedAt == nil {
		t.Errorf("snapshot = %+v, want confirmed", snap)
	}

	res := h.telemetry.resolutionList()
	if len(res) != 1 || res[0].outcome != "confirmed_match" || res[0].observed != 60 {
		t.Errorf("resolutions = %+v, want one confirmed_match", res)
	}

	// The timeout for a confirmed command does nothing.
	h.clock.Advance(5 * time.Second)
	h.snapshot(t)
	if len(h.telemetry.resolutionList()) != 1 {
		t.Error("confirmed command resolved again on timeout")
	}
}

func TestReconciler_EchoDoesNotConfirm(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	ch.deliver(topicSet, "60")
	if got := h.snapshot(t).PendingCommands; got != 1 {
		t.Errorf("PendingCommands = %d after echo, want 1", got)
	}

	ch.deliver(topicSet, "70")
	if got := h.snapshot(t).Position; got != 70 {
		t.Errorf("Position = %d after foreign command, want 70", got)
	}
}

// ===== Resolution policies =====

func TestReconciler_LastWriteWinsMismatch(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	ch.deliver(topicPosition, "55")
	snap := h.snapshot(t)

	if snap.Position != 55 || snap.PendingCommands != 0 {
		t.Errorf("snapshot = %+v, want device value 55", snap)
	}
	if got := len(ch.publishedTo(topicSet)); got != 1 {
		t.Errorf("set publishes = %d, want 1", got)
	}
	res := h.telemetry.resolutionList()
	if len(res) != 1 || res[0].outcome != "confirmed_mismatch" {
		t.Errorf("resolutions = %+v", res)
	}
}

func TestReconciler_LastWriteWinsTimeout(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	h.clock.Advance(5 * time.Second)
	snap := h.snapshot(t)

	if snap.Position != 60 || snap.PendingCommands != 0 {
		t.Errorf("snapshot = %+v, want optimistic 60 kept", snap)
	}
	if got := len(ch.publishedTo(topicSet)); got != 1 {
		t.Errorf("set publishes = %d, want 1", got)
	}
	res := h.telemetry.resolutionList()
	if len(res) != 1 || res[0].outcome != "timed_out_unconfirmed" {
		t.Errorf("resolutions = %+v", res)
	}
}

func TestReconciler_ReassertOnMismatch(t *testing.T) {
	h := startHarness(t, Config{Policy: PolicyReassertLatest}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	ch.deliver(topicState, `{"apertura":55}`)
	snap := h.snapshot(t)

	sets := ch.publishedTo(topicSet)
	if len(sets) != 2 || sets[1].payload != "60" {
		t.Fatalf("set publishes = %+v, want target republished", sets)
	}
	if snap.Position != 60 || snap.PendingCommands != 1 {
		t.Errorf("snapshot = %+v, want 60 with one pending", snap)
	}
}

func TestReconciler_ReassertBounded(t *testing.T) {
	h := startHarness(t, Config{Policy: PolicyReassertLatest}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		h.clock.Advance(5 * time.Second)
		h.snapshot(t)
	}

	if got := len(ch.publishedTo(topicSet)); got != maxReassertAttempts {
		t.Errorf("set publishes = %d, want %d", got, maxReassertAttempts)
	}
	if got := h.snapshot(t).PendingCommands; got != 0 {
		t.Errorf("PendingCommands = %d, want 0", got)
	}
}

func TestReconciler_ReassertOnlyLatest(t *testing.T) {
	h := startHarness(t, Config{Policy: PolicyReassertLatest}, nil)
	ch := h.connected(t)
	ctx := context.Background()

	if _, err := h.r.SetPosition(ctx, 30); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if _, err := h.r.SetPosition(ctx, 60); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	ch.deliver(topicState, `{"apertura":60}`)
	h.snapshot(t)

	if got := len(ch.publishedTo(topicSet)); got != 2 {
		t.Errorf("set publishes = %d, want 2 (older mismatch not reasserted)", got)
	}
}

// ===== Mode, presets, automation =====

func TestReconciler_SetMode(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	snap, err := h.r.SetMode(context.Background(), ModeScheduled)
	if err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if snap.Mode != ModeScheduled {
		t.Errorf("Mode = %v, want programmed", snap.Mode)
	}
	modes := ch.publishedTo(topicMode)
	if len(modes) != 1 || modes[0].payload != "programmed" {
		t.Errorf("mode publishes = %+v", modes)
	}

	if _, err := h.r.SetMode(context.Background(), Mode(9)); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("SetMode(9) error = %v, want ErrUnknownMode", err)
	}
}

func TestReconciler_ApplyScheduled(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)
	ctx := context.Background()

	applied, err := h.r.ApplyScheduled(ctx, 30)
	if err != nil || applied {
		t.Errorf("ApplyScheduled() in manual = %v, %v, want false, nil", applied, err)
	}
	if len(ch.publishedTo(topicSet)) != 0 {
		t.Error("scheduled position sent in manual mode")
	}

	if _, err := h.r.SetMode(ctx, ModeScheduled); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	applied, err = h.r.ApplyScheduled(ctx, 30)
	if err != nil || !applied {
		t.Errorf("ApplyScheduled() in scheduled = %v, %v, want true, nil", applied, err)
	}
	if sets := ch.publishedTo(topicSet); len(sets) != 1 || sets[0].payload != "30" {
		t.Errorf("set publishes = %+v", sets)
	}
}

func TestReconciler_SaveAndApplyPreset(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)
	ctx := context.Background()

	preset, index, err := h.r.SavePreset(ctx, "Tarde", 50)
	if err != nil {
		t.Fatalf("SavePreset() error = %v", err)
	}
	if preset != (Preset{Name: "Tarde", Value: 50}) || index != 3 {
		t.Errorf("SavePreset() = %+v at %d, want Tarde=50 at 3", preset, index)
	}

	presets, err := h.r.Presets(ctx)
	if err != nil || len(presets) != 4 || presets[3].Name != "Tarde" {
		t.Fatalf("Presets() = %+v, %v", presets, err)
	}
	stored, err := DecodePresets(h.kv.value(t, store.KeyPresets))
	if err != nil || stored[3] != preset {
		t.Errorf("stored presets = %+v, %v", stored, err)
	}

	if _, err := h.r.ApplyPresetAt(ctx, 3); err != nil {
		t.Fatalf("ApplyPresetAt() error = %v", err)
	}
	if sets := ch.publishedTo(topicSet); len(sets) != 1 || sets[0].payload != "50" {
		t.Errorf("set publishes = %+v", sets)
	}

	if _, err := h.r.ApplyPresetAt(ctx, 9); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("ApplyPresetAt(9) error = %v, want ErrPresetNotFound", err)
	}
	if _, _, err := h.r.SavePreset(ctx, " ", 10); !errors.Is(err, ErrInvalidPresetName) {
		t.Errorf("SavePreset(blank) error = %v, want ErrInvalidPresetName", err)
	}
}

// ===== Connection lifecycle =====

func TestReconciler_RetriesEveryFiveSeconds(t *testing.T) {
	h := startHarness(t, Config{}, func(h *harness) { h.dialer.setErr(errBrokerDown) })

	waitFor(t, "retry armed", func() bool { return h.dialer.attemptCount() == 1 && h.clock.active() == 1 })

	h.clock.Advance(4999 * time.Millisecond)
	h.snapshot(t)
	if got := h.dialer.attemptCount(); got != 1 {
		t.Fatalf("attempts before 5s = %d, want 1", got)
	}

	h.clock.Advance(time.Millisecond)
	waitFor(t, "second attempt", func() bool { return h.dialer.attemptCount() == 2 })

	for want := 3; want <= 6; want++ {
		waitFor(t, "retry armed", func() bool { return h.clock.active() == 1 })
		h.clock.Advance(DefaultReconnectDelay)
		waitFor(t, "next attempt", func() bool { return h.dialer.attemptCount() == want })
	}

	failed := h.obs.noticesOf(NoticeConnectFailed)
	if len(failed) < 5 {
		t.Errorf("connect_failed notices = %d, want >= 5", len(failed))
	}
	if failed[0].RetryIn != 5*time.Second {
		t.Errorf("RetryIn = %v, want 5s", failed[0].RetryIn)
	}
	if len(h.obs.noticesOf(NoticeReconnecting)) < 5 {
		t.Error("expected a reconnecting notice per retry")
	}
}

func TestReconciler_ConnectionLostAndRecovered(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	first := h.connected(t)

	h.dialer.loseConnection(0)
	waitFor(t, "disconnect", func() bool { return h.snapshot(t).Connection == Disconnected })

	if !first.isClosed() {
		t.Error("lost channel not closed")
	}
	lost := h.obs.noticesOf(NoticeConnectionLost)
	if len(lost) != 1 || lost[0].RetryIn != DefaultReconnectDelay {
		t.Errorf("connection_lost notices = %+v", lost)
	}

	waitFor(t, "retry armed", func() bool { return h.clock.active() == 1 })
	h.clock.Advance(DefaultReconnectDelay)
	second := h.connected(t)
	if second == first {
		t.Fatal("expected a new session")
	}
	if got := len(second.publishedTo(topicState)); got != 1 {
		t.Errorf("state requests on new session = %d, want 1", got)
	}

	// A late callback from the old session is ignored.
	h.dialer.lost[0](errors.New("late"))
	if got := h.snapshot(t).Connection; got != Connected {
		t.Errorf("Connection = %v after stale callback, want connected", got)
	}
}

func TestReconciler_ManualReconnect(t *testing.T) {
	h := startHarness(t, Config{}, func(h *harness) { h.dialer.setErr(errBrokerDown) })
	waitFor(t, "first failure", func() bool {
		return h.dialer.attemptCount() == 1 && h.snapshot(t).Connection == Disconnected
	})

	h.dialer.setErr(nil)
	if _, err := h.r.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	h.connected(t)
	if got := h.dialer.attemptCount(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}

	// The pending retry finds the session up and does nothing.
	h.clock.Advance(DefaultReconnectDelay)
	h.snapshot(t)
	if got := h.dialer.attemptCount(); got != 2 {
		t.Errorf("attempts after stale retry = %d, want 2", got)
	}

	// Reconnect while connected is a no-op.
	if _, err := h.r.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if got := h.dialer.attemptCount(); got != 2 {
		t.Errorf("attempts after Reconnect while connected = %d, want 2", got)
	}
}

func TestReconciler_Stop(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	h.stop(t)

	if !ch.isClosed() {
		t.Error("channel not closed on stop")
	}
	if _, err := h.r.SetPosition(context.Background(), 10); !errors.Is(err, ErrStopped) {
		t.Errorf("SetPosition() after stop error = %v, want ErrStopped", err)
	}
	if err := h.r.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}

func TestReconciler_ObserverRemoval(t *testing.T) {
	h := startHarness(t, Config{}, nil)
	ch := h.connected(t)

	extra := &recordingObserver{}
	remove := h.r.AddObserver(extra)
	ch.deliver(topicPosition, "10")
	h.snapshot(t)
	remove()
	ch.deliver(topicPosition, "20")
	h.snapshot(t)

	if got := extra.stateCount(); got != 1 {
		t.Errorf("removed observer saw %d changes, want 1", got)
	}
}

func TestReconciler_CustomNamespace(t *testing.T) {
	h := startHarness(t, Config{Namespace: "casa/persiana", SensorRoot: "casa"}, nil)
	ch := h.connected(t)

	if _, err := h.r.SetPosition(context.Background(), 25); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if got := len(ch.publishedTo("casa/persiana/set")); got != 1 {
		t.Errorf("publishes on custom set topic = %d, want 1", got)
	}
	ch.deliver("casa/persiana/estado", `{"apertura":25}`)
	if got := h.snapshot(t).PendingCommands; got != 0 {
		t.Errorf("PendingCommands = %d, want 0", got)
	}
}
