// Package notifier delivers human-readable funnel events to the one chat the
// relay reports to.
//
// Delivery is best-effort: a failed send is logged and reported back as a
// Result, never as a panic or a blocked caller. There is no queue and no
// retry.
package notifier
