// Package observability provides an OpenTelemetry-based metrics extension
// for Spool. The MetricsExtension implements lifecycle hooks to record
// counters for job enqueue, completion, failure, retry, DLQ, cron, admission
// rejection, and upload completion events, plus a job duration histogram.
//
// Queue depth is exposed as an observable gauge: call RegisterQueueDepth
// with the job store and the queues to watch.
package observability
