// Package audithook is a spool extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every job, admission, upload, and cron lifecycle hook emits a
// structured audit event through the [Recorder] interface. The extension
// assigns severity levels (info for normal operations, warning for
// retries and rejections, critical for terminal failures) and rich
// metadata (job name, queue, tenant, elapsed time, errors).
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	        audithook.ActionRejected,
//	    ),
//	)
package audithook
