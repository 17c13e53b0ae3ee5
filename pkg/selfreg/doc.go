// Package selfreg implements the self-registration convergence path: target
// accounts announce themselves instead of being polled.
//
// # Overview
//
// A watch session is opened for one external id and produces a finite lazy
// stream of registered accounts. Announcements are accepted only when their
// external id matches the session (preventing cross-session replay) and are
// deduplicated by account id, so repeat announcements are idempotent no-ops.
// The watch completes early the first time an accepted registration carries
// a non-empty organization id, the signal that organization-wide propagation
// has begun; otherwise it completes at timeout with the partial set.
//
// Sessions are not restartable: once a watch ends, a new external id is
// required to watch again.
//
// # Session state
//
// Session existence and per-account dedup live behind SessionStore. The
// Redis implementation lets announcements land on any replica; the memory
// implementation serves tests and single-node deployments.
package selfreg
