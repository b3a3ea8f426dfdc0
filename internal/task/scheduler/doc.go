// Package scheduler runs named background jobs on cron or interval
// schedules. The relay uses it for the periodic registry save.
package scheduler
