// Package schedule provides the single-goroutine event loop the relay runs on,
// deferred execution and cron expression handling.
//
// Loop serialises everything posted to it, so connection handlers, timer
// callbacks and the relay's tick never run concurrently. Manual is a
// Scheduler with a hand-driven clock for tests. Cron functions parse and
// validate cron expressions and compute upcoming run times.
package schedule
