// Package queue defines named queues with per-queue and per-tenant
// dequeue throttling.
//
// Queues are named channels that group related jobs. Jobs carry a Queue
// field that determines which queue they belong to. The pool polls the
// queues listed in [spool.Config.Queues] (default: emails, files,
// maintenance).
//
// This throttle is distinct from the tenant rate limiter: the rate
// limiter decides whether a tenant action is admitted at submit time,
// while the queue [Manager] paces how fast already-accepted jobs are
// pulled off the queue and run.
//
// # Per-Queue Configuration
//
// [Defaults] covers the three built-in queues; use [Config] to override
// pacing and concurrency caps per queue:
//
//	queue.Config{
//	    Name:           spool.QueueEmails,
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    JobsPerSecond:  10,     // max 10 jobs/s drained from this queue
//	    Burst:          20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.Build(c,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: spool.QueueEmails, MaxConcurrency: 20},
//	        queue.Config{Name: spool.QueueFiles, JobsPerSecond: 5, Burst: 10},
//	    ),
//	)
//
// # Per-Tenant Drain Limits
//
// A tenant's slice of a queue can be paced independently so one
// tenant's backlog cannot monopolize the workers. [ForPlan] derives the
// limits from the tenant's subscription plan:
//
//	m.SetTenantPlan(spool.QueueEmails, tenantID, plan.Pro)
//
// # Manager
//
// [Manager] enforces both gates at dequeue time, with a token-bucket
// pacer (golang.org/x/time/rate) and an active-count cap:
//
//	m := queue.NewManager(queue.Defaults()...)
//	if m.Acquire(queueName, tenantID) {
//	    defer m.Release(queueName, tenantID)
//	    // process the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue
