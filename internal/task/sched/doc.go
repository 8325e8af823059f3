// Package sched is the scrape-job scheduler: it accepts run requests,
// enforces the concurrency cap, pairs each running job with an exclusive
// browser-profile token, launches and monitors execution, and reclaims
// tokens when jobs finish or are stopped.
//
// All scheduling state is in-memory and lost on restart; the task store is
// the durable record but is never reconciled against on startup.
package sched
