// Package ledger tracks per-tenant resource usage in monthly periods.
//
// Usage rows are keyed by (tenant, period) where period is a calendar
// month like "2026-08". Rows are created lazily on first use and zeroed,
// never deleted, by the monthly reset so the row count stays an audit
// trail of active tenants. All mutation goes through a single atomic
// AddUsage operation; callers never read-modify-write.
package ledger

import (
	"time"

	"github.com/oxlane/spool"
)

// Field identifies one usage counter inside a period.
type Field string

const (
	FieldEmailsSent     Field = "emails_sent"
	FieldEmailsReceived Field = "emails_received"
	FieldStorageBytes   Field = "storage_bytes"
)

// UsagePeriod is one tenant's usage for one calendar month.
type UsagePeriod struct {
	spool.Entity

	TenantID  string `json:"tenant_id"`
	PeriodKey string `json:"period_key"` // "2026-08"

	EmailsSent     int64 `json:"emails_sent"`
	EmailsReceived int64 `json:"emails_received"`
	StorageBytes   int64 `json:"storage_bytes"`
}

// Get returns the counter value for the given field.
func (u *UsagePeriod) Get(f Field) int64 {
	switch f {
	case FieldEmailsSent:
		return u.EmailsSent
	case FieldEmailsReceived:
		return u.EmailsReceived
	case FieldStorageBytes:
		return u.StorageBytes
	}
	return 0
}

// Set overwrites the counter value for the given field.
func (u *UsagePeriod) Set(f Field, v int64) {
	switch f {
	case FieldEmailsSent:
		u.EmailsSent = v
	case FieldEmailsReceived:
		u.EmailsReceived = v
	case FieldStorageBytes:
		u.StorageBytes = v
	}
}

// PeriodKey returns the ledger period for the given time, in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
