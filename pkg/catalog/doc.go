// Package catalog persists the durable output of the orchestrator: one
// RegisteredAccount row per account id.
//
// Rows are created by idempotent upsert keyed on account_id. A later failed
// deployment never removes a successfully registered account; updates only
// ever add provenance (filling in a missing organization id). This makes
// the catalog safe under at-least-once sync delivery: replaying a sync
// after a crash is a no-op.
package catalog
