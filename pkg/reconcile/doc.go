// Package reconcile converges the local view of a deployment operation with
// the remote per-account ground truth.
//
// # Overview
//
// The state machine lives in Tracker, a pure aggregate-recomputation step:
// every observation replaces the whole per-account map from a full remote
// fetch and re-derives the aggregate state, so late, skipped or repeated
// polls cannot corrupt it. The Poller owns scheduling: it is the single
// writer for an operation, runs as a cancellable background task, and stops
// on convergence or staleness.
//
// # State machine
//
//	SUBMITTED -> IN_PROGRESS        first non-pending per-account result
//	IN_PROGRESS -> CONVERGED_SUCCESS every target succeeded
//	IN_PROGRESS -> CONVERGED_PARTIAL every target terminal, at least one failed
//	IN_PROGRESS -> STALLED           no change across N consecutive polls
//
// Converged states are sticky. STALLED is a reported status, not an error;
// a later poll that observes change resumes IN_PROGRESS.
//
// On the first convergence with at least one success the poller triggers
// the account-catalog sync exactly once per process; the sync itself is
// idempotent so a crash-and-resume retrigger is harmless.
//
// # Related Packages
//
//   - pkg/deploy: creates the DeploymentOperation this package owns
//   - pkg/catalog: the idempotent sync target
package reconcile
