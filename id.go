package spool

import "github.com/oxlane/spool/id"

// ID is the primary identifier type for all spool entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
