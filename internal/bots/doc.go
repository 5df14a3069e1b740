// Package bots implements the notification categories: weather briefing,
// US/KR market summaries with price alerts, calendar digest, and one-shot
// memo reminders. Each bot follows the same shape: check that at least one
// channel is linked, fetch from its provider, format, dispatch, and append
// an activity-log entry with the outcome.
package bots
