package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOperation() *DeploymentOperation {
	return NewOperation("op-1", "o-abc123", "cost-analysis-role", "us-east-1", "ext-1", []string{"A", "B", "C"})
}

func TestNewOperationStartsPending(t *testing.T) {
	op := newTestOperation()

	states := op.StatusSnapshot()
	require.Len(t, states, 3)
	for id, st := range states {
		assert.Equal(t, AccountPending, st.Status, id)
	}

	succeeded, failed, inProgress := op.Counts()
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 3, inProgress)
}

func TestReplaceStatusIsFullReplacement(t *testing.T) {
	op := newTestOperation()

	op.ReplaceStatus(map[string]AccountState{
		"A": {Status: AccountSucceeded},
		"B": {Status: AccountFailed, Reason: CategoryExecutionRoleMissing, Detail: "role missing"},
	})

	states := op.StatusSnapshot()
	assert.Equal(t, AccountSucceeded, states["A"].Status)
	assert.Equal(t, AccountFailed, states["B"].Status)
	// C missing from the fetch stays pending.
	assert.Equal(t, AccountPending, states["C"].Status)

	// A later fetch that omits A resets it to pending: the local aggregate
	// always mirrors the latest full fetch, never a merge of past fetches.
	op.ReplaceStatus(map[string]AccountState{
		"B": {Status: AccountFailed, Reason: CategoryExecutionRoleMissing},
	})
	assert.Equal(t, AccountPending, op.StatusSnapshot()["A"].Status)
}

func TestReplaceStatusIgnoresUnknownAccounts(t *testing.T) {
	op := newTestOperation()

	op.ReplaceStatus(map[string]AccountState{
		"A": {Status: AccountSucceeded},
		"Z": {Status: AccountSucceeded},
	})

	states := op.StatusSnapshot()
	require.Len(t, states, 3)
	_, hasZ := states["Z"]
	assert.False(t, hasZ)
}

func TestCountsAlwaysSumToTargets(t *testing.T) {
	op := newTestOperation()

	polls := []map[string]AccountState{
		{},
		{"A": {Status: AccountSucceeded}},
		{"A": {Status: AccountSucceeded}, "B": {Status: AccountFailed, Reason: CategoryAccessDenied}},
		{"A": {Status: AccountSucceeded}, "B": {Status: AccountSucceeded}, "C": {Status: AccountSucceeded}},
	}

	for i, poll := range polls {
		op.ReplaceStatus(poll)
		succeeded, failed, inProgress := op.Counts()
		assert.Equal(t, 3, succeeded+failed+inProgress, "poll %d", i)
	}
}

func TestSucceededAndFailedAccessors(t *testing.T) {
	op := newTestOperation()
	op.ReplaceStatus(map[string]AccountState{
		"A": {Status: AccountSucceeded},
		"B": {Status: AccountSucceeded},
		"C": {Status: AccountFailed, Reason: CategoryExecutionRoleMissing, Detail: "no execution role"},
	})

	assert.Equal(t, []string{"A", "B"}, op.SucceededAccountIDs())

	failed := op.FailedAccounts()
	require.Len(t, failed, 1)
	assert.Equal(t, CategoryExecutionRoleMissing, failed["C"].Reason)
}

func TestAccountStatusTerminal(t *testing.T) {
	assert.False(t, AccountPending.Terminal())
	assert.True(t, AccountSucceeded.Terminal())
	assert.True(t, AccountFailed.Terminal())
}
