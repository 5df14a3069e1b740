// Package storage persists the assistant's domain state in SQLite:
// the linked user's channel credentials, per-category notification
// settings, queued reminders, price alerts, the activity log, and the
// durable scheduled-job set.
//
// SQLite is a single-writer engine; the pool is capped at one
// connection and WAL mode is enabled at open time.
package storage
