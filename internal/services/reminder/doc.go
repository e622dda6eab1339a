// Package reminder turns stored routine events into timed Telegram messages.
//
// The engine never persists job state. Storage holds the events; the timers
// service holds the pending set; Reconcile is the only bridge between them.
// Any change to an owner's day (add, delete, clear) is followed by a full
// namespace rebuild: cancel everything under reminder:<owner>:<day>:, read
// the events back, schedule one job per event that still has a future
// reminder window. Crashed or restarted processes call ReconcileAll and are
// whole again.
//
// Recurring wall-clock work (the morning overview and the two check-in
// prompts) runs on a cron schedule in the engine's timezone and fans out
// through the notify pipeline, best effort per recipient.
package reminder
