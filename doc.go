// Package spool is the asynchronous job-processing and quota-enforcement
// core of a multi-tenant mail and file-storage backend. It offers durable,
// at-least-once background jobs with bounded retries, per-tenant fixed-window
// rate limiting, a monthly usage ledger, and chunked-upload reassembly.
//
// Spool is designed as a library, not a service. The API layer imports it,
// configures a store, and submits actions; worker processes import it and
// run the pool.
//
// # Quick Start
//
//	c, err := spool.New(
//	    spool.WithStore(pgStore),
//	    spool.WithConcurrency(20),
//	)
//
// # Architecture
//
// Spool follows a composable store pattern where each subsystem (job, cron,
// dlq, cluster, ledger, ratelimit, upload) defines its own store interface.
// A single backend implements all of them; memory, Redis, and PostgreSQL
// backends ship with the module.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package spool
