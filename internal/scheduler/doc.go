// Package scheduler provides the assistant's in-process job scheduler.
//
// # Overview
//
// Jobs are registered under a stable, caller-supplied id (e.g.
// "weather_daily", "reminder_42") with one of three trigger kinds:
//
//   - Cron: fires every day at a fixed wall-clock time in the configured
//     time zone.
//   - Interval: fires repeatedly every N minutes.
//   - Date: fires exactly once at a timestamp, then the job is removed.
//
// The job set is durable: registrations are written to a JobStore and
// re-armed on Start(), so jobs survive a process restart.
//
// # Payloads
//
// A job carries a tagged Payload instead of a function reference. Domain
// packages register a Runner per payload kind; the execution engine
// dispatches fires to the matching runner. This keeps the persisted form
// trivial (no callable serialization) and avoids reflection.
//
// # Concurrency
//
// A single cron engine decides what is due; due fires are enqueued onto a
// buffered queue drained by a worker pool, so one slow job never blocks
// the dispatch loop. Concurrent executions of the same job id are capped
// (default 3); excess fires are dropped with a log line.
//
// # Lifecycle
//
// Start and Shutdown are idempotent. Registering jobs while stopped is
// supported: definitions are persisted and armed on the next Start.
package scheduler
