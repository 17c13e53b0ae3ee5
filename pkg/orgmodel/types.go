package orgmodel

import (
	"fmt"
	"strings"
	"time"
)

// LifecycleStatus is the remote-reported lifecycle state of a member account.
type LifecycleStatus string

const (
	LifecycleActive         LifecycleStatus = "active"
	LifecycleSuspended      LifecycleStatus = "suspended"
	LifecyclePendingClosure LifecycleStatus = "pendingClosure"
)

// Deployable reports whether an account in this state can receive a
// stack set deployment. Suspended and closing accounts are rejected by the
// provider, so the planner skips them up front.
func (s LifecycleStatus) Deployable() bool {
	return s == LifecycleActive
}

// AccountRef identifies a member account inside a snapshot. Read-only,
// sourced entirely from detection.
type AccountRef struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"displayName"`
	Email           string          `json:"email"`
	LifecycleStatus LifecycleStatus `json:"lifecycleStatus"`
}

// OrganizationalUnit is a named node in the organization hierarchy.
// ParentID is nil only for the root unit. Accounts keep the order the
// remote listing returned them in; they are never re-sorted locally so
// repeated detections stay diff-friendly.
type OrganizationalUnit struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	ParentID *string      `json:"parentId,omitempty"`
	Accounts []AccountRef `json:"accounts"`
}

// IsRoot reports whether this unit is the hierarchy root.
func (u *OrganizationalUnit) IsRoot() bool {
	return u.ParentID == nil
}

// OrganizationSnapshot is the immutable result of one detection call.
type OrganizationSnapshot struct {
	OrganizationID      string               `json:"organizationId"`
	ManagementAccountID string               `json:"managementAccountId"`
	Units               []OrganizationalUnit `json:"units"`
	DetectedAt          time.Time            `json:"detectedAt"`
}

// Validate checks the structural invariants of a snapshot: unit ids are
// unique, exactly the unit named "root" (case-insensitive) has no parent,
// and no account appears in more than one unit.
func (s *OrganizationSnapshot) Validate() error {
	if s.OrganizationID == "" {
		return fmt.Errorf("snapshot missing organization id")
	}
	if s.ManagementAccountID == "" {
		return fmt.Errorf("snapshot missing management account id")
	}

	unitIDs := make(map[string]struct{}, len(s.Units))
	accountOwner := make(map[string]string)
	rootSeen := false

	for _, unit := range s.Units {
		if _, dup := unitIDs[unit.ID]; dup {
			return fmt.Errorf("duplicate unit id %q in snapshot", unit.ID)
		}
		unitIDs[unit.ID] = struct{}{}

		if unit.ParentID == nil {
			if !strings.EqualFold(unit.Name, "root") {
				return fmt.Errorf("parentless unit %q is not the root", unit.Name)
			}
			if rootSeen {
				return fmt.Errorf("multiple root units in snapshot")
			}
			rootSeen = true
		}

		for _, acct := range unit.Accounts {
			if owner, dup := accountOwner[acct.ID]; dup {
				return fmt.Errorf("account %s appears in units %s and %s", acct.ID, owner, unit.ID)
			}
			accountOwner[acct.ID] = unit.ID
		}
	}

	if len(s.Units) > 0 && !rootSeen {
		return fmt.Errorf("snapshot has units but no root")
	}

	for _, unit := range s.Units {
		if unit.ParentID != nil {
			if _, ok := unitIDs[*unit.ParentID]; !ok {
				return fmt.Errorf("unit %s references unknown parent %s", unit.ID, *unit.ParentID)
			}
		}
	}

	return nil
}

// Unit returns the unit with the given id, or nil.
func (s *OrganizationSnapshot) Unit(id string) *OrganizationalUnit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// AllAccounts returns every account in the snapshot in unit order.
func (s *OrganizationSnapshot) AllAccounts() []AccountRef {
	var accounts []AccountRef
	for _, unit := range s.Units {
		accounts = append(accounts, unit.Accounts...)
	}
	return accounts
}

// DeploymentMode selects which part of the organization a deployment targets.
type DeploymentMode string

const (
	ModeEntireOrganization DeploymentMode = "EntireOrganization"
	ModeSpecificUnits      DeploymentMode = "SpecificUnits"
)

// Valid reports whether the mode is one of the known values.
func (m DeploymentMode) Valid() bool {
	return m == ModeEntireOrganization || m == ModeSpecificUnits
}

// DeploymentPlan is the derived, never-persisted target computation for one
// deployment. ResolvedTargetAccountIDs is a pure function of the snapshot,
// mode, selected units and exclusions; it never contains the management
// account.
type DeploymentPlan struct {
	Mode                     DeploymentMode `json:"mode"`
	SelectedUnitIDs          []string       `json:"selectedUnitIds"`
	ResolvedTargetAccountIDs []string       `json:"resolvedTargetAccountIds"`
	// SkippedAccountIDs lists accounts dropped because their lifecycle
	// state cannot receive a deployment. Informational only.
	SkippedAccountIDs []string `json:"skippedAccountIds,omitempty"`
}

// TargetCount is the number of accounts the plan will deploy to.
func (p *DeploymentPlan) TargetCount() int {
	return len(p.ResolvedTargetAccountIDs)
}

// Targets reports whether the given account id is in the resolved set.
func (p *DeploymentPlan) Targets(accountID string) bool {
	for _, id := range p.ResolvedTargetAccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// RegistrationType records how an account entered the catalog.
type RegistrationType string

const (
	RegistrationDirect  RegistrationType = "Direct"
	RegistrationSelf    RegistrationType = "SelfRegistered"
	RegistrationOrgSync RegistrationType = "OrganizationSync"
)

// RegisteredAccount is the durable output of the orchestrator: one row per
// account id, created idempotently and never removed as a side effect of a
// later failed deployment.
type RegisteredAccount struct {
	AccountID        string           `json:"accountId" db:"account_id"`
	RoleARN          string           `json:"roleArn" db:"role_arn"`
	ExternalID       string           `json:"externalId" db:"external_id"`
	Region           string           `json:"region" db:"region"`
	OrganizationID   string           `json:"organizationId,omitempty" db:"organization_id"`
	RegistrationType RegistrationType `json:"registrationType" db:"registration_type"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" db:"updated_at"`
}
