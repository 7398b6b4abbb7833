// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, ON CONFLICT upserts for atomic usage
// accounting and rate-limit windows, and in-code schema migrations.
package postgres
