// Package pluginapi defines the narrow contract the scheduler and event
// dispatcher share with the (externally owned) plugin manager. The manager
// itself — discovery, descriptor parsing, dynamic loading, dependency
// ordering — lives outside this module; this package only fixes the shapes
// the core needs in order to stay decoupled from it.
package pluginapi

import "time"

// OwnerID identifies the plugin that submitted a task or registered an
// event delegate. It is opaque to the scheduler and dispatcher: they never
// interpret it beyond equality and use as a map key.
type OwnerID uint64

// Anonymous is the zero OwnerID, used for tasks submitted without a plugin
// owner (e.g. schedule_async_anonymous). It is never a valid plugin id.
const Anonymous OwnerID = 0

// Lifecycle is implemented by the plugin manager. The manager MUST call
// Disable before releasing any plugin-side resources that delegates or task
// callbacks might have captured, so that in-flight work is fenced off
// before memory backing it goes away.
type Lifecycle interface {
	// Disable is invoked once a plugin is being unloaded or disabled.
	Disable(owner OwnerID)
}

// Clock is a monotonic, millisecond-resolution-or-better time source used
// to pace the scheduler's tick loop. Production code uses SystemClock;
// tests inject a fake to make tick pacing deterministic without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the default Clock, backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time     { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
