// Package scheduler triggers periodic jobs (heartbeat reports, storage
// pruning) on cron expressions or fixed intervals.
//
// Jobs run on the cron goroutine with panic recovery and are skipped while a
// previous run of the same job is still in flight.
package scheduler
