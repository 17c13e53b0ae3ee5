// Package planner computes the concrete set of target accounts for one
// organization deployment.
//
// Plan is a pure function of (snapshot, mode, selected units, exclusions):
// the same inputs always resolve to the same target set, which is what makes
// retried submissions idempotent at the planning layer. The management
// account is removed unconditionally because it is registered through the
// separate direct-role flow, never through mass deployment.
package planner
