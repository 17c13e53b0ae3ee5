// Package deploy issues stack set deployments against a planned target set
// and owns the closed deployment error taxonomy.
//
// # Overview
//
// The Coordinator turns a DeploymentPlan into one remote stack set operation.
// Synchronous provider failures are classified into a closed set of
// categories at the provider boundary (see pkg/awscloud); everything upstream
// of the coordinator branches on the category tag, never on provider error
// text. Throttling is the only category retried locally, with bounded
// exponential backoff.
//
// # Key Types
//
// Coordinator: submits deployments
//
//	op, err := coord.Submit(ctx, deploy.SubmitRequest{
//		OrganizationID: "o-abc123",
//		Plan:           plan,
//		StackSetName:   "cost-analysis-role",
//		ExternalID:     externalID,
//		Region:         "us-east-1",
//	})
//
// DeploymentOperation: the mutable per-operation record, created in state
// SUBMITTED and thereafter owned exclusively by pkg/reconcile.
//
// # Related Packages
//
//   - pkg/planner: produces the plan a submission consumes
//   - pkg/reconcile: polls the operation to convergence
//   - pkg/awscloud: implements StackSetClient and error classification
package deploy
