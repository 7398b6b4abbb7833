// Package plan maps subscription plan names to resource limits.
//
// The table is a pure function of the plan name: no storage, no network.
// Billing owns which plan a tenant is on; this package only answers what
// that plan allows. Unknown plan names fall back to the free tier so a
// misconfigured tenant is constrained rather than unlimited.
package plan

import (
	"github.com/oxlane/spool"
)

// Name identifies a subscription plan.
type Name string

const (
	Free       Name = "free"
	Pro        Name = "pro"
	Enterprise Name = "enterprise"
)

// Limits holds the resource limits for one plan.
type Limits struct {
	// EmailsPerMonth caps send_email actions per calendar month.
	EmailsPerMonth spool.Limit

	// EmailsPerMinute caps send_email admissions per fixed one-minute
	// window. Always bounded; even enterprise tenants get a ceiling to
	// protect the SMTP relay.
	EmailsPerMinute int

	// StorageBytes caps total stored bytes per tenant.
	StorageBytes spool.Limit

	// MaxUploadBytes caps the size of a single upload.
	MaxUploadBytes spool.Limit
}

var table = map[Name]Limits{
	Free: {
		EmailsPerMonth:  spool.Bounded(300),
		EmailsPerMinute: 5,
		StorageBytes:    spool.Bounded(5 << 30),  // 5 GiB
		MaxUploadBytes:  spool.Bounded(50 << 20), // 50 MiB
	},
	Pro: {
		EmailsPerMonth:  spool.Bounded(500),
		EmailsPerMinute: 20,
		StorageBytes:    spool.Bounded(50 << 30), // 50 GiB
		MaxUploadBytes:  spool.Bounded(2 << 30),  // 2 GiB
	},
	Enterprise: {
		EmailsPerMonth:  spool.Unlimited(),
		EmailsPerMinute: 100,
		StorageBytes:    spool.Unlimited(),
		MaxUploadBytes:  spool.Unlimited(),
	},
}

// For returns the limits for the given plan. Unknown plans are treated
// as free.
func For(name Name) Limits {
	if l, ok := table[name]; ok {
		return l
	}
	return table[Free]
}

// Names returns all known plan names.
func Names() []Name {
	return []Name{Free, Pro, Enterprise}
}
