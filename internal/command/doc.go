// Package command tracks door commands through their acknowledgement
// lifecycle.
//
// # Lifecycle
//
// Dispatching a command assigns it a unique commandId, publishes a control
// envelope to the device's MQTT control topic, and arms an acknowledgement
// timer. The device reports progress on the shared response topic; the bridge
// feeds those reports back here via Resolve.
//
//	pending → received → executing → executed
//	                               ↘ failed
//	pending ─(no terminal ack in time)→ timeout
//
// The first terminal report wins: once a command reaches executed, failed, or
// timeout, later reports for the same commandId are ignored. A late ack from
// a slow device cannot resurrect a command already reported as timed out.
//
// # Failure semantics
//
// Publish failures surface immediately as a failed command — there is no
// retry queue. The operator watching the dashboard needs to know the unlock
// did not go out, not discover it fired minutes later.
//
// Resolved commands are kept for a configurable retention window so the
// dashboard can show recent history, then swept by the Run loop.
package command
