// Package visitor implements the visitor approval workflow.
//
// # Flow
//
// A camera at the door detects a visitor and uploads a snapshot; the gateway
// records a visitor log in pending status and notifies every dashboard. Any
// operator (or an automated rule) may then grant or deny entry.
//
//	pending → granted (door unlock dispatched to the paired lock)
//	        → denied
//
// # Decision semantics
//
// Exactly one decision wins. Concurrent approvals from two dashboards race
// on a per-visitor claim: the first writer transitions the log and triggers
// the door; the loser gets ErrAlreadyDecided and the dashboards converge on
// the broadcast outcome. Repeating the same decision by the same route is
// reported as ErrAlreadyDecided too — callers treat it as a no-op.
//
// A grant whose unlock publish fails stays granted: the decision is an
// access-control fact, the failed actuation is surfaced separately as a
// hardware error alert.
package visitor
