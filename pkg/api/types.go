package api

import (
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// DetectRequest identifies the management-account credential to detect with.
type DetectRequest struct {
	RoleARN    string `json:"roleArn"`
	Region     string `json:"region"`
	ExternalID string `json:"externalId,omitempty"`
	// Fresh bypasses the snapshot cache.
	Fresh bool `json:"fresh,omitempty"`
}

// DeployRequest submits a deployment against the organization in the path.
type DeployRequest struct {
	RoleARN    string `json:"roleArn"`
	Region     string `json:"region"`
	ExternalID string `json:"externalId,omitempty"`

	Mode            string   `json:"mode"`
	SelectedUnitIDs []string `json:"selectedUnitIds,omitempty"`
	Exclusions      []string `json:"exclusions,omitempty"`

	// StackSetName overrides the configured stack set. Rarely needed.
	StackSetName string `json:"stackSetName,omitempty"`
}

// DeployResponse acknowledges an accepted deployment submission.
type DeployResponse struct {
	OperationID     string   `json:"operationId"`
	Message         string   `json:"message"`
	TargetAccounts  int      `json:"targetAccounts"`
	SkippedAccounts []string `json:"skippedAccounts,omitempty"`
	Warning         string   `json:"warning,omitempty"`
}

// DeployErrorResponse is the body of a failed deployment submission. The
// category is the stable machine-readable field; everything else is for
// operators.
type DeployErrorResponse struct {
	Error              string   `json:"error"`
	Category           string   `json:"category"`
	Suggestion         string   `json:"suggestion,omitempty"`
	ExcludedAccounts   []string `json:"excludedAccounts,omitempty"`
	DeployableAccounts []string `json:"deployableAccounts,omitempty"`
}

// SyncResponse reports a catalog sync result.
type SyncResponse struct {
	OrganizationID string `json:"organizationId"`
	SyncedAccounts int    `json:"syncedAccounts"`
}

// AccountsResponse lists the registered accounts of an organization.
type AccountsResponse struct {
	OrganizationID string                       `json:"organizationId"`
	Accounts       []orgmodel.RegisteredAccount `json:"accounts"`
}

// WatchRequest opens a self-registration watch session.
type WatchRequest struct {
	// ExternalID is minted server-side when omitted.
	ExternalID string `json:"externalId,omitempty"`
	// Timeout is a Go duration string; empty uses the server default.
	Timeout string `json:"timeout,omitempty"`
}

// WatchResponse describes one watch session.
type WatchResponse struct {
	ExternalID string                       `json:"externalId"`
	Outcome    string                       `json:"outcome"`
	Accounts   []orgmodel.RegisteredAccount `json:"accounts"`
}
