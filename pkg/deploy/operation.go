package deploy

import (
	"sync"
	"time"
)

// AccountStatus is the terminality-aware per-account deployment state.
type AccountStatus string

const (
	AccountPending   AccountStatus = "Pending"
	AccountSucceeded AccountStatus = "Succeeded"
	AccountFailed    AccountStatus = "Failed"
)

// Terminal reports whether the account has reached a final outcome.
func (s AccountStatus) Terminal() bool {
	return s == AccountSucceeded || s == AccountFailed
}

// AccountState is one account's deployment outcome as of the latest poll.
type AccountState struct {
	Status AccountStatus `json:"status"`
	// Reason carries the failure classification when Status is Failed.
	Reason ErrorCategory `json:"reason,omitempty"`
	// Detail is the provider's status reason text, kept for operator
	// display only; orchestration logic never branches on it.
	Detail string `json:"detail,omitempty"`
}

// DeploymentOperation is the mutable record for one submitted stack set
// operation. It is created by the Coordinator in state SUBMITTED with every
// target pending, and from then on mutated only by the status reconciler,
// which replaces the whole per-account map on each poll.
type DeploymentOperation struct {
	OperationID    string
	OrganizationID string
	StackSetName   string
	Region         string
	ExternalID     string
	SubmittedAt    time.Time

	// targets is the immutable resolved set the operation was submitted
	// with; the per-account map always covers exactly these ids.
	targets []string

	mu         sync.RWMutex
	perAccount map[string]AccountState
}

// NewOperation constructs a submitted operation with all targets pending.
func NewOperation(operationID, organizationID, stackSetName, region, externalID string, targetAccountIDs []string) *DeploymentOperation {
	per := make(map[string]AccountState, len(targetAccountIDs))
	for _, id := range targetAccountIDs {
		per[id] = AccountState{Status: AccountPending}
	}
	return &DeploymentOperation{
		OperationID:    operationID,
		OrganizationID: organizationID,
		StackSetName:   stackSetName,
		Region:         region,
		ExternalID:     externalID,
		SubmittedAt:    time.Now().UTC(),
		targets:        append([]string(nil), targetAccountIDs...),
		perAccount:     per,
	}
}

// TargetAccountIDs returns the immutable target set.
func (op *DeploymentOperation) TargetAccountIDs() []string {
	return append([]string(nil), op.targets...)
}

// ReplaceStatus atomically replaces the per-account map from a full remote
// status fetch. Accounts missing from the fetch stay pending; accounts
// outside the target set are ignored.
func (op *DeploymentOperation) ReplaceStatus(states map[string]AccountState) {
	next := make(map[string]AccountState, len(op.targets))
	for _, id := range op.targets {
		if st, ok := states[id]; ok {
			next[id] = st
		} else {
			next[id] = AccountState{Status: AccountPending}
		}
	}
	op.mu.Lock()
	op.perAccount = next
	op.mu.Unlock()
}

// StatusSnapshot returns a copy of the current per-account states.
func (op *DeploymentOperation) StatusSnapshot() map[string]AccountState {
	op.mu.RLock()
	defer op.mu.RUnlock()
	out := make(map[string]AccountState, len(op.perAccount))
	for id, st := range op.perAccount {
		out[id] = st
	}
	return out
}

// Counts aggregates the current per-account states. The three buckets
// always sum to the target count.
func (op *DeploymentOperation) Counts() (succeeded, failed, inProgress int) {
	op.mu.RLock()
	defer op.mu.RUnlock()
	for _, st := range op.perAccount {
		switch st.Status {
		case AccountSucceeded:
			succeeded++
		case AccountFailed:
			failed++
		default:
			inProgress++
		}
	}
	return succeeded, failed, inProgress
}

// SucceededAccountIDs returns the ids that have reported success, sorted by
// target order.
func (op *DeploymentOperation) SucceededAccountIDs() []string {
	op.mu.RLock()
	defer op.mu.RUnlock()
	var ids []string
	for _, id := range op.targets {
		if op.perAccount[id].Status == AccountSucceeded {
			ids = append(ids, id)
		}
	}
	return ids
}

// FailedAccounts returns the failed ids with their states, in target order.
func (op *DeploymentOperation) FailedAccounts() map[string]AccountState {
	op.mu.RLock()
	defer op.mu.RUnlock()
	out := make(map[string]AccountState)
	for _, id := range op.targets {
		if st := op.perAccount[id]; st.Status == AccountFailed {
			out[id] = st
		}
	}
	return out
}
