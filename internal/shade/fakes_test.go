package shade

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shade-core/internal/store"
)

// ===== Clock =====

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves time forward and runs due timers in order on the caller.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, remaining []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.at.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// ===== Channel =====

type publishedMessage struct {
	topic   string
	payload string
	qos     byte
}

type subscription struct {
	pattern string
	handler func(topic string, payload []byte)
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	subs      []subscription
	published []publishedMessage
}

func (c *fakeChannel) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, subscription{pattern: topic, handler: handler})
	return nil
}

func (c *fakeChannel) Publish(topic string, payload []byte, qos byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.published = append(c.published, publishedMessage{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver routes a message to every matching subscription, as the broker
// client does.
func (c *fakeChannel) deliver(topic, payload string) {
	c.mu.Lock()
	var handlers []func(string, []byte)
	for _, s := range c.subs {
		if topicMatches(s.pattern, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(topic, []byte(payload))
	}
}

func (c *fakeChannel) publishedTo(topic string) []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []publishedMessage
	for _, m := range c.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeChannel) patterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s.pattern)
	}
	return out
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !strings.HasSuffix(pattern, "/+") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "+")
	rest := strings.TrimPrefix(topic, prefix)
	return strings.HasPrefix(topic, prefix) && rest != "" && !strings.Contains(rest, "/")
}

// ===== Dialer =====

type fakeDialer struct {
	mu       sync.Mutex
	err      error
	attempts int
	channels []*fakeChannel
	lost     []func(error)
}

func (d *fakeDialer) Dial(_ context.Context, onConnectionLost func(error)) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{connected: true}
	d.channels = append(d.channels, ch)
	d.lost = append(d.lost, onConnectionLost)
	return ch, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

func (d *fakeDialer) loseConnection(i int) {
	d.mu.Lock()
	ch, lost := d.channels[i], d.lost[i]
	d.mu.Unlock()

	ch.mu.Lock()
	ch.connected = false
	ch.mu.Unlock()
	lost(errors.New("broker went away"))
}

// ===== Store, observer, telemetry =====

type countingKV struct {
	*store.MemoryKV
	mu   sync.Mutex
	sets map[string]int
}

func newCountingKV() *countingKV {
	return &countingKV{MemoryKV: store.NewMemoryKV(), sets: make(map[string]int)}
}

func (k *countingKV) Set(ctx context.Context, key, value string) error {
	k.mu.Lock()
	k.sets[key]++
	k.mu.Unlock()
	return k.MemoryKV.Set(ctx, key, value)
}

func (k *countingKV) setCount(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sets[key]
}

func (k *countingKV) value(t *testing.T, key string) string {
	t.Helper()
	v, ok, err := k.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get(%s) = %v, %v", key, ok, err)
	}
	return v
}

type recordingObserver struct {
	mu      sync.Mutex
	states  []Snapshot
	notices []Notice
}

func (o *recordingObserver) StateChanged(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) Notice(n Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *recordingObserver) stateCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.states)
}

func (o *recordingObserver) noticesOf(kind NoticeKind) []Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Notice
	for _, n := range o.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type resolution struct {
	outcome  string
	issued   int
	observed int
}

type fakeTelemetry struct {
	mu          sync.Mutex
	positions   []int
	commands    []string
	resolutions []resolution
}

func (f *fakeTelemetry) WritePosition(_ string, position int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, position)
}

func (f *fakeTelemetry) WriteCommand(_, kind, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, kind+"="+value)
}

func (f *fakeTelemetry) WriteResolution(_, outcome string, issued, observed int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, resolution{outcome, issued, observed})
}

func (f *fakeTelemetry) resolutionList() []resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resolution(nil), f.resolutions...)
}

// ===== Harness =====

type harness struct {
	r         *Reconciler
	clock     *fakeClock
	dialer    *fakeDialer
	kv        *countingKV
	history   *store.MemoryHistory
	telemetry *fakeTelemetry
	obs       *recordingObserver

	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// startHarness builds a reconciler with fakes, lets setup adjust them and
// starts Run.
func startHarness(t *testing.T, cfg Config, setup func(h *harness)) *harness {
	t.Helper()

	h := &harness{
		clock:     newFakeClock(),
		dialer:    &fakeDialer{},
		kv:        newCountingKV(),
		history:   store.NewMemoryHistory(),
		telemetry: &fakeTelemetry{},
		obs:       &recordingObserver{},
		done:      make(chan error, 1),
	}
	if setup != nil {
		setup(h)
	}

	h.r = New(cfg, h.dialer, h.kv, nil)
	h.r.SetClock(h.clock)
	h.r.SetHistory(h.history)
	h.r.SetTelemetry(h.telemetry)
	h.r.AddObserver(h.obs)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.r.Run(ctx) }()

	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	h.once.Do(func() {
		h.cancel()
		select {
		case err := <-h.done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
}

func (h *harness) historyEntries(t *testing.T) []store.PositionEntry {
	t.Helper()
	h.snapshot(t)
	entries, err := h.history.Recent(context.Background(), 200)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	return entries
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.r.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

// connected waits for the first session and returns its channel.
func (h *harness) connected(t *testing.T) *fakeChannel {
	t.Helper()
	waitFor(t, "connected", func() bool { return h.snapshot(t).Connection == Connected })
	return h.dialer.channel(h.dialer.attemptCount() - 1)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
