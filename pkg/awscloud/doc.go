// Package awscloud is the AWS boundary of the orchestrator. It adapts the
// Organizations, CloudFormation StackSets and STS APIs to the narrow
// interfaces the detector, coordinator and reconciler consume.
//
// All provider error classification happens here, once, at the boundary:
// Organizations failures map onto the detector sentinel errors and stack set
// failures onto *deploy.Error categories. Code above this package never
// inspects raw SDK errors.
//
// Customer access always goes through an assumed role. The base credential
// chain only ever talks to STS; every Organizations or CloudFormation call
// runs under the customer's management-account role, scoped by the external
// id of the onboarding session.
package awscloud
