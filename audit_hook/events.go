package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobFailed       = "job.failed"
	ActionJobRetrying     = "job.retrying"
	ActionJobDLQ          = "job.dlq"
	ActionRejected        = "admission.rejected"
	ActionUploadCompleted = "upload.completed"
	ActionCronFired       = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "spool.job"
	CategoryAdmission = "spool.admission"
	CategoryUpload    = "spool.upload"
	CategoryCron      = "spool.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceTenant = "tenant"
	ResourceUpload = "upload_session"
	ResourceCron   = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionRejected,
		ActionUploadCompleted,
		ActionCronFired,
	}
}
