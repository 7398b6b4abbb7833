// Package engine wires all Spool subsystems together. It creates the
// extension registry, job registry, middleware chain, worker pool,
// admission services, and provides the external surface the API layer
// calls: SubmitAction, SubmitChunk, JobStatus.
//
// This package exists to break the import cycle: the root spool package
// defines Entity (imported by job, upload, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem
// packages and below the application layer.
//
// # Admission
//
// SubmitAction is the front door for tenant-triggered work. The gates
// run in order — plan lookup, fixed-window rate limit, monthly quota
// reserve — and a rejection at any gate returns *spool.RejectedError
// synchronously; rejected actions are never enqueued.
//
// # Wiring
//
//	st := memory.New()
//	c, _ := spool.New(spool.WithStore(st))
//	eng, _ := engine.Build(c)
//	engine.Register(eng, tasks.SendEmail(mailer, mailDB, eng.Ledger(), logger))
//	eng.Start(ctx)
package engine
