package reconcile

import (
	"maps"
	"sync"

	"github.com/platinummonkey/orgdeploy/pkg/deploy"
)

// AggregateState is the orchestrator-level state of one deployment
// operation.
type AggregateState string

const (
	StateSubmitted        AggregateState = "SUBMITTED"
	StateInProgress       AggregateState = "IN_PROGRESS"
	StateConvergedSuccess AggregateState = "CONVERGED_SUCCESS"
	StateConvergedPartial AggregateState = "CONVERGED_PARTIAL"
	StateStalled          AggregateState = "STALLED"
)

// Terminal reports whether the state is a sticky endpoint. STALLED is not
// terminal: a later poll that observes change resumes progress.
func (s AggregateState) Terminal() bool {
	return s == StateConvergedSuccess || s == StateConvergedPartial
}

// DefaultStallThreshold is the number of consecutive unchanged polls after
// which a still-pending operation is reported stalled.
const DefaultStallThreshold = 3

// Tracker derives the aggregate state of one operation from successive full
// status observations. Each observation atomically replaces the operation's
// per-account map and recomputes the aggregate from scratch; nothing is
// diffed incrementally, which makes the tracker indifferent to skipped or
// late polls.
type Tracker struct {
	op             *deploy.DeploymentOperation
	stallThreshold int

	mu             sync.Mutex
	state          AggregateState
	unchangedPolls int
	lastObserved   map[string]deploy.AccountState
}

// NewTracker creates a tracker for a freshly submitted operation.
func NewTracker(op *deploy.DeploymentOperation, stallThreshold int) *Tracker {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	return &Tracker{
		op:             op,
		stallThreshold: stallThreshold,
		state:          StateSubmitted,
		lastObserved:   op.StatusSnapshot(),
	}
}

// Operation returns the operation this tracker owns.
func (t *Tracker) Operation() *deploy.DeploymentOperation { return t.op }

// State returns the current aggregate state.
func (t *Tracker) State() AggregateState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Observe applies one full remote status fetch and returns the new
// aggregate state. Converged states are sticky: once reached, further
// observations change nothing.
func (t *Tracker) Observe(states map[string]deploy.AccountState) AggregateState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return t.state
	}

	t.op.ReplaceStatus(states)
	current := t.op.StatusSnapshot()

	if maps.Equal(current, t.lastObserved) {
		t.unchangedPolls++
	} else {
		t.unchangedPolls = 0
	}
	t.lastObserved = current

	t.state = t.derive(current)
	return t.state
}

func (t *Tracker) derive(states map[string]deploy.AccountState) AggregateState {
	allTerminal := true
	anyTerminal := false
	anyFailed := false
	for _, st := range states {
		if st.Status.Terminal() {
			anyTerminal = true
		} else {
			allTerminal = false
		}
		if st.Status == deploy.AccountFailed {
			anyFailed = true
		}
	}

	switch {
	case allTerminal && anyFailed:
		return StateConvergedPartial
	case allTerminal:
		return StateConvergedSuccess
	case t.unchangedPolls >= t.stallThreshold:
		return StateStalled
	case anyTerminal:
		return StateInProgress
	case t.state == StateSubmitted:
		return StateSubmitted
	default:
		return StateInProgress
	}
}

// AccountReport is one account's row in a status report.
type AccountReport struct {
	AccountID    string `json:"accountId"`
	Status       string `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
}

// StatusReport is the caller-facing aggregate view of one operation. The
// three counters always sum to TotalTargetAccounts.
type StatusReport struct {
	OperationID           string          `json:"operationId"`
	OrganizationID        string          `json:"organizationId"`
	State                 AggregateState  `json:"state"`
	SuccessfulDeployments int             `json:"successfulDeployments"`
	FailedDeployments     int             `json:"failedDeployments"`
	InProgressDeployments int             `json:"inProgressDeployments"`
	TotalTargetAccounts   int             `json:"totalTargetAccounts"`
	Accounts              []AccountReport `json:"accounts"`
}

// BuildReport assembles the status report for an operation. Failing
// accounts always carry their reason codes; aggregate counts alone are not
// enough for remediation.
func BuildReport(t *Tracker) StatusReport {
	op := t.Operation()
	states := op.StatusSnapshot()
	succeeded, failed, inProgress := op.Counts()

	report := StatusReport{
		OperationID:           op.OperationID,
		OrganizationID:        op.OrganizationID,
		State:                 t.State(),
		SuccessfulDeployments: succeeded,
		FailedDeployments:     failed,
		InProgressDeployments: inProgress,
		TotalTargetAccounts:   len(op.TargetAccountIDs()),
	}

	for _, id := range op.TargetAccountIDs() {
		st := states[id]
		row := AccountReport{AccountID: id, Status: string(st.Status)}
		if st.Status == deploy.AccountFailed {
			row.StatusReason = string(st.Reason)
			if st.Detail != "" {
				row.StatusReason += ": " + st.Detail
			}
		}
		report.Accounts = append(report.Accounts, row)
	}

	return report
}
