package shade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/shade-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/shade-core/internal/store"
)

// Defaults applied to zero Config fields.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConfirmDelay   = 500 * time.Millisecond
	DefaultConfirmTimeout = 5 * time.Second
)

const (
	// commandQoS is the delivery guarantee for position commands (at least once).
	commandQoS byte = 1

	// eventBuffer is the capacity of the event queue.
	eventBuffer = 256
)

// stateRequestPayload asks the device to publish its current position.
var stateRequestPayload = []byte(`{"comando":"` + stateRequestCommand + `"}`)

// Channel is one live messaging session.
type Channel interface {
	// Subscribe registers handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Publish hands a message to the transport without waiting for delivery.
	Publish(topic string, payload []byte, qos byte) error

	IsConnected() bool
	Close() error
}

// Dialer opens messaging sessions. Each call must use a fresh client
// identity so concurrent instances do not evict each other.
type Dialer interface {
	// Dial connects a new session. onConnectionLost is called at most once
	// if the session later drops.
	Dial(ctx context.Context, onConnectionLost func(err error)) (Channel, error)
}

// Telemetry receives time-series records. Implemented by influxdb.Client.
type Telemetry interface {
	WritePosition(namespace string, position int, source string)
	WriteCommand(namespace, kind, value string)
	WriteResolution(namespace, outcome string, issued, observed int, latency time.Duration)
}

// Config holds reconciler settings.
type Config struct {
	// Namespace is the actuator topic namespace (e.g., "sensores/motor").
	Namespace string

	// SensorRoot is the prefix for environment sensor topics.
	SensorRoot string

	// QoS is used for subscriptions, state requests and mode changes.
	// Position commands always use QoS 1.
	QoS byte

	ReconnectDelay time.Duration
	ConfirmDelay   time.Duration
	ConfirmTimeout time.Duration

	Policy ResolutionPolicy

	// DefaultPresets seed the preset list when none is stored.
	DefaultPresets []Preset
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ConfirmDelay <= 0 {
		c.ConfirmDelay = DefaultConfirmDelay
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.Policy == "" {
		c.Policy = PolicyLastWriteWins
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
}

// Reconciler owns the belief about one shade.
//
// All state lives on a single event-loop goroutine started by Run. UI
// operations, inbound messages, connection callbacks and timers are queued
// as events and applied one at a time in arrival order.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Reconciler struct {
	cfg     Config
	topics  mqtt.Topics
	decoder *Decoder

	dialer    Dialer
	kv        store.KV
	history   store.History
	telemetry Telemetry
	clock     Clock
	logger    Logger

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	// Loop-owned state.
	state          ActuatorState
	sensors        SensorReadings
	presets        *PresetManager
	pending        pendingTracker
	channel        Channel
	session        uint64
	reconnectTimer Timer
	lastNotified   Snapshot
	notified       bool
	lastRecorded   int

	observersMu    sync.RWMutex
	observers      map[int]Observer
	nextObserverID int
}

// New creates a reconciler. It does nothing until Run is called.
//
// Parameters:
//   - cfg: Reconciler settings (zero durations use defaults)
//   - dialer: Opens messaging sessions
//   - kv: Persistent store for position and presets (may be nil)
//   - logger: Logger instance (may be nil)
func New(cfg Config, dialer Dialer, kv store.KV, logger Logger) *Reconciler {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}
	topics := mqtt.NewTopics(cfg.Namespace, cfg.SensorRoot)

	return &Reconciler{
		cfg:          cfg,
		topics:       topics,
		decoder:      NewDecoder(topics),
		dialer:       dialer,
		kv:           kv,
		clock:        systemClock{},
		logger:       logger,
		events:       make(chan func(), eventBuffer),
		done:         make(chan struct{}),
		presets:      NewPresetManager(kv, cfg.DefaultPresets, logger),
		lastRecorded: -1,
		observers:    make(map[int]Observer),
	}
}

// SetHistory sets the position history recorder. Must be called before Run.
func (r *Reconciler) SetHistory(h store.History) { r.history = h }

// SetTelemetry sets the time-series writer. Must be called before Run.
func (r *Reconciler) SetTelemetry(t Telemetry) { r.telemetry = t }

// SetClock replaces the system clock. Must be called before Run.
func (r *Reconciler) SetClock(c Clock) { r.clock = c }

// Topics returns the topic set in use.
func (r *Reconciler) Topics() mqtt.Topics { return r.topics }

// AddObserver registers an observer and returns a function that removes it.
func (r *Reconciler) AddObserver(o Observer) (remove func()) {
	r.observersMu.Lock()
	id := r.nextObserverID
	r.nextObserverID++
	r.observers[id] = o
	r.observersMu.Unlock()

	return func() {
		r.observersMu.Lock()
		delete(r.observers, id)
		r.observersMu.Unlock()
	}
}

func (r *Reconciler) observerList() []Observer {
	r.observersMu.RLock()
	defer r.observersMu.RUnlock()
	list := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		list = append(list, o)
	}
	return list
}

// Run loads persisted state, starts connecting and processes events until
// ctx is cancelled. The session is closed on return.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("shade: reconciler already running")
	}
	r.runCtx = ctx
	defer close(r.done)

	r.initialize(ctx)
	r.connect()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case fn := <-r.events:
			fn()
		}
	}
}

// ===== Event plumbing =====

// post queues fn for the loop. It returns false once the loop has stopped.
func (r *Reconciler) post(fn func()) bool {
	select {
	case r.events <- fn:
		return true
	case <-r.done:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (r *Reconciler) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case r.events <- func() { result <- fn() }:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doSnapshot runs fn on the loop and returns the state right after it.
func (r *Reconciler) doSnapshot(ctx context.Context, fn func() error) (Snapshot, error) {
	var snap Snapshot
	err := r.do(ctx, func() error {
		if err := fn(); err != nil {
			return err
		}
		snap = r.snapshot()
		return nil
	})
	return snap, err
}

// ===== Lifecycle =====

// initialize loads the persisted position and presets. Failures fall back
// to defaults and are logged.
func (r *Reconciler) initialize(ctx context.Context) {
	r.state = ActuatorState{Position: 0, Mode: ModeManual, Connection: Disconnected}

	if r.kv != nil {
		raw, ok, err := r.kv.Get(ctx, store.KeyPosition)
		switch {
		case err != nil:
			r.logger.Warn("loading position failed, using 0", "error", err)
		case ok:
			if n, parseErr := parsePosition([]byte(raw)); parseErr != nil {
				r.logger.Warn("stored position malformed, using 0", "value", raw)
			} else {
				r.state.Position = Clamp(n)
			}
		}
	}
	r.presets.Load(ctx)

	r.logger.Info("shade state loaded",
		"position", r.state.Position,
		"presets", len(r.presets.List()),
		"namespace", r.topics.Namespace(),
		"policy", r.cfg.Policy,
	)
	r.notify()
}

func (r *Reconciler) shutdown() {
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	r.session++
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("closing channel failed", "error", err)
		}
		r.channel = nil
	}
	r.state.Connection = Disconnected
}

// ===== Connection =====

// connect starts a connection attempt unless one is active.
func (r *Reconciler) connect() {
	if r.state.Connection != Disconnected {
		return
	}
	r.session++
	session := r.session
	r.state.Connection = Connecting
	r.notify()

	go r.dial(session)
}

// dial runs off the loop and reports back with an event.
func (r *Reconciler) dial(session uint64) {
	ch, err := r.dialer.Dial(r.runCtx, func(lostErr error) {
		r.post(func() { r.handleConnectionLost(session, lostErr) })
	})
	if err == nil {
		if subErr := r.subscribeAll(ch, session); subErr != nil {
			ch.Close() //nolint:errcheck // Session is being abandoned
			ch, err = nil, subErr
		}
	}

	if !r.post(func() { r.handleDialResult(session, ch, err) }) && ch != nil {
		ch.Close() //nolint:errcheck // Loop stopped, nobody owns the session
	}
}

func (r *Reconciler) subscribeAll(ch Channel, session uint64) error {
	wildcard := r.topics.AllActuator()
	for _, topic := range r.topics.Subscriptions() {
		if err := ch.Subscribe(topic, r.cfg.QoS, r.messageHandler(session, topic == wildcard)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

// messageHandler queues inbound messages. The wildcard subscription only
// forwards topics that no explicit subscription covers, so a message is
// never applied twice.
func (r *Reconciler) messageHandler(session uint64, wildcard bool) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		if wildcard && r.decoder.Handles(topic) {
			return
		}
		data := append([]byte(nil), payload...)
		r.post(func() { r.handleMessage(session, topic, data) })
	}
}

func (r *Reconciler) handleDialResult(session uint64, ch Channel, err error) {
	if session != r.session {
		if ch != nil {
			ch.Close() //nolint:errcheck // Stale session
		}
		return
	}
	if err == nil && !ch.IsConnected() {
		ch.Close() //nolint:errcheck // Session dropped while subscribing
		err = errors.New("session dropped during setup")
	}

	if err != nil {
		r.state.Connection = Disconnected
		r.logger.Warn("connection attempt failed", "error", err, "retry_in", r.cfg.ReconnectDelay)
		r.emitNotice(NoticeConnectFailed, "Could not reach the shade controller", r.cfg.ReconnectDelay)
		r.scheduleReconnect()
		r.notify()
		return
	}

	r.channel = ch
	r.state.Connection = Connected
	r.logger.Info("connected to shade controller", "namespace", r.topics.Namespace())
	r.emitNotice(NoticeConnected, "Connected to the shade controller", 0)
	r.notify()
	r.requestState()
}

func (r *Reconciler) handleConnectionLost(session uint64, err error) {
	if session != r.session || r.state.Connection != Connected {
		return
	}
	if r.channel != nil {
		r.channel.Close() //nolint:errcheck // Session already lost
		r.channel = nil
	}
	r.state.Connection = Disconnected
	r.logger.Warn("connection lost", "error", err, "retry_in", r.cfg.ReconnectDelay)
	r.emitNotice(NoticeConnectionLost, "Connection to the shade controller lost", r.cfg.ReconnectDelay)
	r.scheduleReconnect()
	r.notify()
}

// scheduleReconnect arms the retry timer. At most one is outstanding.
func (r *Reconciler) scheduleReconnect() {
	if r.reconnectTimer != nil {
		return
	}
	r.reconnectTimer = r.clock.AfterFunc(r.cfg.ReconnectDelay, func() {
		r.post(r.reconnectDue)
	})
}

func (r *Reconciler) reconnectDue() {
	r.reconnectTimer = nil
	if r.state.Connection != Disconnected {
		return
	}
	r.emitNotice(NoticeReconnecting, "Reconnecting to the shade controller", 0)
	r.connect()
}

// Reconnect starts a connection attempt now if the session is down. It is
// a no-op while connecting or connected.
func (r *Reconciler) Reconnect(ctx context.Context) (Snapshot, error) {
	return r.doSnapshot(ctx, func() error {
		r.connect()
		return nil
	})
}

// ===== Publishing =====

func (r *Reconciler) isConnected() bool {
	return r.state.Connection == Connected && r.channel != nil && r.channel.IsConnected()
}

// publish sends a message on the current session. While disconnected it
// returns ErrNotConnected and raises a notice.
func (r *Reconciler) publish(topic string, payload []byte, qos byte) error {
	if !r.isConnected() {
		r.emitNotice(NoticeNotConnected, "Not connected to the shade controller", 0)
		return ErrNotConnected
	}
	if err := r.channel.Publish(topic, payload, qos); err != nil {
		if errors.Is(err, ErrNotConnected) {
			r.emitNotice(NoticeNotConnected, "Not connected to the shade controller", 0)
			return err
		}
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// requestState asks the device for its position. Silent when offline.
func (r *Reconciler) requestState() {
	if !r.isConnected() {
		return
	}
	if err := r.channel.Publish(r.topics.State(), stateRequestPayload, r.cfg.QoS); err != nil {
		r.logger.Debug("state request not sent", "error", err)
	}
}

// ===== Operations =====

// Snapshot returns the current state.
func (r *Reconciler) Snapshot(ctx context.Context) (Snapshot, error) {
	return r.doSnapshot(ctx, func() error { return nil })
}

// SetPosition publishes a position command and applies it optimistically.
// Out-of-range values are clamped. A confirmation request follows after
// the confirm delay.
//
// Returns:
//   - Snapshot: State after the optimistic update
//   - error: ErrNotConnected if the session is down (state unchanged)
func (r *Reconciler) SetPosition(ctx context.Context, value int) (Snapshot, error) {
	return r.doSnapshot(ctx, func() error { return r.setPosition(value, 1) })
}

// ApplyPreset has the same contract as SetPosition.
func (r *Reconciler) ApplyPreset(ctx context.Context, value int) (Snapshot, error) {
	return r.SetPosition(ctx, value)
}

// ApplyPresetAt applies the preset at index in the ordered list.
func (r *Reconciler) ApplyPresetAt(ctx context.Context, index int) (Snapshot, error) {
	return r.doSnapshot(ctx, func() error {
		preset, err := r.presets.At(index)
		if err != nil {
			return err
		}
		return r.setPosition(preset.Value, 1)
	})
}

// Toggle fully opens a closed shade and fully closes any other.
func (r *Reconciler) Toggle(ctx context.Context) (Snapshot, error) {
	return r.doSnapshot(ctx, func() error {
		target := MinPosition
		if !r.state.IsOpen() {
			target = MaxPosition
		}
		return r.setPosition(target, 1)
	})
}

// ApplyScheduled sets a position only while the mode is Scheduled.
//
// Returns:
//   - bool: false when the mode is not Scheduled and nothing was sent
//   - error: As for SetPosition
func (r *Reconciler) ApplyScheduled(ctx context.Context, value int) (bool, error) {
	applied := false
	err := r.do(ctx, func() error {
		if r.state.Mode != ModeScheduled {
			return nil
		}
		if err := r.setPosition(value, 1); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// SetMode publishes a mode change and applies it optimistically. Mode is
// not reconciled against device telemetry.
func (r *Reconciler) SetMode(ctx context.Context, mode Mode) (Snapshot, error) {
	if mode < ModeManual || mode > ModeScheduled {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	return r.doSnapshot(ctx, func() error {
		token := mode.Token()
		if err := r.publish(r.topics.Mode(), []byte(token), r.cfg.QoS); err != nil {
			return err
		}
		r.writeCommand("mode", token)
		r.state.Mode = mode
		r.notify()
		return nil
	})
}

// SavePreset appends a preset and persists the list.
//
// Returns:
//   - Preset: The stored preset (value clamped)
//   - int: Index of the new preset in the list
//   - error: ErrInvalidPresetName for a blank name
func (r *Reconciler) SavePreset(ctx context.Context, name string, value int) (Preset, int, error) {
	var preset Preset
	index := -1
	err := r.do(ctx, func() error {
		var err error
		if preset, err = r.presets.Save(r.runCtx, name, value); err != nil {
			return err
		}
		index = len(r.presets.List()) - 1
		return nil
	})
	return preset, index, err
}

// Presets returns the ordered preset list.
func (r *Reconciler) Presets(ctx context.Context) ([]Preset, error) {
	var list []Preset
	err := r.do(ctx, func() error {
		list = r.presets.List()
		return nil
	})
	return list, err
}

// setPosition is the loop-side command path.
func (r *Reconciler) setPosition(value, attempt int) error {
	target := Clamp(value)
	payload := strconv.Itoa(target)
	if err := r.publish(r.topics.Set(), []byte(payload), commandQoS); err != nil {
		return err
	}
	r.writeCommand("position", payload)

	cmd := r.pending.issue(target, attempt, r.clock.Now())
	r.applyPosition(target, store.SourceOptimistic)

	// Timers are never cancelled; a fired timer for a resolved command is a no-op.
	r.clock.AfterFunc(r.cfg.ConfirmDelay, func() {
		r.post(func() { r.confirmDue(cmd) })
	})
	r.clock.AfterFunc(r.cfg.ConfirmTimeout, func() {
		r.post(func() { r.timeoutDue(cmd) })
	})

	r.logger.Debug("position command issued", "id", cmd.ID, "target", target, "attempt", attempt)
	r.notify()
	return nil
}

func (r *Reconciler) confirmDue(cmd *PendingCommand) {
	if cmd.Resolved() {
		return
	}
	r.requestState()
}

func (r *Reconciler) timeoutDue(cmd *PendingCommand) {
	transitioned, wasLatest := r.pending.timeout(cmd, r.clock.Now())
	if !transitioned {
		return
	}
	r.recordResolution(cmd)
	r.logger.Warn("position command unconfirmed", "id", cmd.ID, "target", cmd.Target, "attempt", cmd.Attempt)

	if wasLatest && shouldReassert(r.cfg.Policy, cmd) {
		r.reassert(cmd)
	}
	r.notify()
}

func (r *Reconciler) reassert(cmd *PendingCommand) {
	r.logger.Info("reasserting position command", "target", cmd.Target, "attempt", cmd.Attempt+1)
	if err := r.setPosition(cmd.Target, cmd.Attempt+1); err != nil {
		r.logger.Warn("reassert failed", "target", cmd.Target, "error", err)
	}
}

// ===== Inbound =====

// handleMessage decodes and applies one inbound message. Undecodable
// messages are discarded.
func (r *Reconciler) handleMessage(session uint64, topic string, payload []byte) {
	if session != r.session {
		return
	}

	msg, err := r.decoder.Decode(topic, payload)
	if err != nil {
		if !errors.Is(err, ErrStateRequest) {
			r.logger.Debug("discarding message", "topic", topic, "error", err)
		}
		return
	}

	now := r.clock.Now()
	switch msg.Kind {
	case KindState:
		r.applyDevicePosition(msg.Position, store.SourceState, now)
	case KindPosition:
		r.applyDevicePosition(msg.Position, store.SourcePosition, now)
	case KindEcho:
		r.state.LastConfirmedAt = now
		r.applyPosition(Clamp(msg.Position), store.SourceEcho)
	case KindMode:
		r.state.Mode = msg.Mode
	case KindTemperature:
		r.sensors.InteriorTemp = floatPtr(msg.Value)
		r.sensors.UpdatedAt = &now
	case KindHumidity:
		r.sensors.Humidity = floatPtr(msg.Value)
		r.sensors.UpdatedAt = &now
	case KindLuminosity:
		r.sensors.Luminosity = floatPtr(msg.Value)
		r.sensors.UpdatedAt = &now
	case KindWeather:
		r.sensors.ExteriorTemp = floatPtr(*msg.Weather.Temperature)
		r.sensors.Weather = msg.Weather.Description
		r.sensors.UpdatedAt = &now
	}
	r.notify()
}

// applyDevicePosition accepts a device-originated position and resolves
// pending commands against it.
func (r *Reconciler) applyDevicePosition(raw int, source string, now time.Time) {
	position := Clamp(raw)
	r.state.LastConfirmedAt = now
	r.applyPosition(position, source)

	resolved, newest := r.pending.confirm(position, now)
	for _, cmd := range resolved {
		r.recordResolution(cmd)
	}
	if shouldReassert(r.cfg.Policy, newest) {
		r.reassert(newest)
	}
}

// applyPosition sets the position and writes it through. Persistence
// failures are logged only.
func (r *Reconciler) applyPosition(position int, source string) {
	r.state.Position = position

	if r.kv != nil {
		if err := r.kv.Set(r.runCtx, store.KeyPosition, strconv.Itoa(position)); err != nil {
			r.logger.Error("persisting position failed", "position", position, "error", err)
		}
	}

	if position != r.lastRecorded {
		r.lastRecorded = position
		if r.history != nil {
			if err := r.history.Record(r.runCtx, position, source); err != nil {
				r.logger.Error("recording position history failed", "error", err)
			}
		}
		if r.telemetry != nil {
			r.telemetry.WritePosition(r.topics.Namespace(), position, source)
		}
	}
}

func (r *Reconciler) recordResolution(cmd *PendingCommand) {
	r.logger.Debug("position command resolved",
		"id", cmd.ID,
		"outcome", cmd.State.String(),
		"target", cmd.Target,
		"observed", cmd.Observed,
	)
	if r.telemetry != nil {
		r.telemetry.WriteResolution(r.topics.Namespace(), cmd.State.String(), cmd.Target, cmd.Observed, cmd.ResolvedAt.Sub(cmd.IssuedAt))
	}
}

func (r *Reconciler) writeCommand(kind, value string) {
	if r.telemetry != nil {
		r.telemetry.WriteCommand(r.topics.Namespace(), kind, value)
	}
}

// ===== Notification =====

func (r *Reconciler) snapshot() Snapshot {
	snap := Snapshot{
		Position:        r.state.Position,
		IsOpen:          r.state.IsOpen(),
		Mode:            r.state.Mode,
		Connection:      r.state.Connection,
		Sensors:         r.sensors,
		PendingCommands: r.pending.count(),
	}
	if !r.state.LastConfirmedAt.IsZero() {
		t := r.state.LastConfirmedAt
		snap.LastConfirmedAt = &t
	}
	return snap
}

// notify tells observers about a visible state change. Repeats of the
// same visible state are suppressed.
func (r *Reconciler) notify() {
	snap := r.snapshot()
	if r.notified && snap.sameVisibleState(r.lastNotified) {
		return
	}
	r.lastNotified = snap
	r.notified = true

	for _, o := range r.observerList() {
		o.StateChanged(snap)
	}
}

func (r *Reconciler) emitNotice(kind NoticeKind, message string, retryIn time.Duration) {
	n := Notice{Kind: kind, Message: message, RetryIn: retryIn, At: r.clock.Now()}
	for _, o := range r.observerList() {
		o.Notice(n)
	}
}

func floatPtr(v float64) *float64 { return &v }
