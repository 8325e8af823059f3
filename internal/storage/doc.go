// Package storage is the durable record of scrape jobs.
//
// The scheduler treats it as a collaborator: it observes job records and
// writes status transitions, but in-memory scheduler state stays
// authoritative for capacity accounting even if a store write fails.
package storage
