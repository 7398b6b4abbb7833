// Package tasks provides the job handlers for the built-in job kinds:
// email delivery, file scanning, upload reassembly, and the periodic
// maintenance jobs (usage reset, expired session/token/share cleanup).
//
// Each handler is a constructor returning a typed *job.Definition, with
// its collaborators (mailer, scanner, file sink, stores) injected as
// interfaces so callers plug in their own implementations:
//
//	eng, _ := engine.Build(c)
//	engine.Register(eng, tasks.SendEmail(smtpMailer, mailDB, eng.Ledger(), logger))
//	engine.Register(eng, tasks.ReassembleUpload(store, chunks, drive, eng.Ledger(), logger))
//
// Handlers classify failures with job.Transient and job.Permanent; the
// executor owns the retry policy.
package tasks
