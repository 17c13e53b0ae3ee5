// Package api exposes the orchestrator over HTTP.
//
// # Routes
//
// Organization onboarding:
//
//	POST /api/v1/organizations/detect                      detect organization structure
//	POST /api/v1/organizations/{orgID}/deployments         submit a deployment
//	GET  /api/v1/organizations/{orgID}/deployments/status  latest deployment status
//	GET  /api/v1/deployments/{operationID}/status          status by operation id
//	POST /api/v1/organizations/{orgID}/sync                sync succeeded accounts into the catalog
//	GET  /api/v1/organizations/{orgID}/accounts            registered accounts of an organization
//	GET  /api/v1/accounts/{accountID}                      one registered account
//
// Self-registration:
//
//	POST /api/v1/self-registration                         inbound account announcement
//	POST /api/v1/self-registration/watch                   open a watch session
//	GET  /api/v1/self-registration/watch/{externalID}      watch progress and accepted accounts
//
// Deployment submissions answer 202: convergence is observed through the
// status endpoint, never by blocking the submit call. Deployment failures
// carry their category and remediation hint in the response body.
package api
