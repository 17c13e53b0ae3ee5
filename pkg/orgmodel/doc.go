// Package orgmodel defines the typed representation of a customer's cloud
// organization as seen by the deployment orchestrator.
//
// # Overview
//
// An OrganizationSnapshot is the immutable result of one structure detection
// call: the organization id, its management account, and the organizational
// unit hierarchy with member accounts as leaves. Snapshots are never mutated
// after detection; planning and deployment read them only.
//
// # Key Types
//
// OrganizationSnapshot: one detection result
//
//	snapshot, err := det.Detect(ctx, input)
//	for _, unit := range snapshot.Units {
//		fmt.Println(unit.Name, len(unit.Accounts))
//	}
//
// DeploymentPlan: derived target set, computed by pkg/planner
//
// RegisteredAccount: the durable catalog row produced once a target account
// becomes usable, with provenance (direct, self-registered, organization sync)
//
// # Related Packages
//
//   - pkg/detector: produces snapshots
//   - pkg/planner: derives DeploymentPlan from a snapshot
//   - pkg/catalog: persists RegisteredAccount rows
package orgmodel
