// Package automation runs the shade's time-based schedule.
//
// Each entry pairs a standard five-field cron expression with a target: a
// preset name or an explicit position. When an entry fires, the target is
// applied through the reconciler only if the shade is in Scheduled mode
// ("programmed" on the wire). In Manual or Automatic mode the firing is
// skipped and logged.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│           Scheduler (scheduler.go)            │
//	│  robfig/cron in the configured time zone      │
//	│        │                                      │
//	│        ▼                                      │
//	│  1. Resolve preset name (at fire time)        │
//	│  2. Shade.ApplyScheduled(position)            │
//	│  3. Log applied / skipped / failed            │
//	└──────────────────────────────────────────────┘
//
// Preset names are resolved when the entry fires, so presets saved after
// startup are honoured.
//
// # Configuration
//
//	schedule:
//	  enabled: true
//	  timezone: "Europe/Madrid"
//	  entries:
//	    - cron: "0 8 * * 1-5"
//	      preset: "Abierta"
//	    - cron: "30 21 * * *"
//	      position: 0
//
// # Usage
//
//	sched, err := automation.NewScheduler(reconciler, entries, loc, log)
//	if err != nil {
//	    return err
//	}
//	sched.Start()
//	defer sched.Stop(ctx)
package automation
