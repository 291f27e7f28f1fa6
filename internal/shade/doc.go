// Package shade reconciles the believed state of a motorised shade with the
// device that drives it.
//
// The Reconciler owns one messaging session to the actuator controller. It
// applies user commands optimistically, asks the device for confirmation
// and accepts whatever position the device later reports. Position and
// presets are persisted through a store.KV so they survive restarts; sensor
// readings live in memory only.
//
// # Topics
//
// With the default namespace "sensores/motor":
//
//	sensores/motor/estado    JSON {"apertura": n} reports, {"comando":"getEstado"} requests
//	sensores/motor/position  bare integer position reports
//	sensores/motor/set       bare integer commands (QoS 1)
//	sensores/motor/mode      manual | auto | programmed
//	sensores/temperature     interior temperature
//	sensores/humidity        humidity
//	sensores/luminosity      luminosity
//	sensores/weather         JSON {"temperature": t, ...}
//
// # Concurrency
//
// Every state change happens on the goroutine running Reconciler.Run.
// Operations called from other goroutines are queued and block until the
// loop has applied them.
//
// # Usage
//
//	r := shade.New(shade.Config{Namespace: "sensores/motor"}, dialer, kv, logger)
//	go r.Run(ctx)
//	snap, err := r.SetPosition(ctx, 60)
//	if errors.Is(err, shade.ErrNotConnected) {
//	    // Nothing was sent and the state is unchanged.
//	}
package shade
