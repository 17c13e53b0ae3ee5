package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// scriptedFetcher replays a fixed sequence of status fetches, repeating the
// last one forever.
type scriptedFetcher struct {
	mu    sync.Mutex
	polls []map[string]deploy.AccountState
	errs  []error
	i     int
}

func (f *scriptedFetcher) FetchAccountStates(ctx context.Context, op *deploy.DeploymentOperation) (map[string]deploy.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.i
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	f.i++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return f.polls[idx], nil
}

type recordingSyncer struct {
	mu       sync.Mutex
	calls    int
	accounts []orgmodel.RegisteredAccount
	orgID    string
}

func (s *recordingSyncer) SyncOrganizationAccounts(ctx context.Context, organizationID string, accounts []orgmodel.RegisteredAccount) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.orgID = organizationID
	s.accounts = accounts
	return len(accounts), nil
}

func (s *recordingSyncer) snapshot() (int, []orgmodel.RegisteredAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.accounts
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not finish in time")
	}
}

func TestPollerConvergesAndSyncsOnce(t *testing.T) {
	fetcher := &scriptedFetcher{polls: []map[string]deploy.AccountState{
		{"A": {Status: deploy.AccountSucceeded}, "B": {Status: deploy.AccountPending}, "C": {Status: deploy.AccountPending}},
		{
			"A": {Status: deploy.AccountSucceeded},
			"B": {Status: deploy.AccountSucceeded},
			"C": {Status: deploy.AccountFailed, Reason: deploy.CategoryExecutionRoleMissing},
		},
	}}
	syncer := &recordingSyncer{}
	poller := NewPoller(fetcher, syncer, quietLogger(), WithInterval(5*time.Millisecond), WithRoleName("analysis-role"))

	h := poller.Start(context.Background(), newOp("A", "B", "C"))
	waitDone(t, h)

	assert.Equal(t, StateConvergedPartial, h.Tracker().State())

	calls, accounts := syncer.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, accounts, 2)
	assert.Equal(t, "A", accounts[0].AccountID)
	assert.Equal(t, "B", accounts[1].AccountID)
	assert.Equal(t, "arn:aws:iam::A:role/analysis-role", accounts[0].RoleARN)
	assert.Equal(t, orgmodel.RegistrationOrgSync, accounts[0].RegistrationType)
	assert.Equal(t, "o-abc123", syncer.orgID)

	// C failed: excluded from sync, surfaced in the report with its reason.
	report := BuildReport(h.Tracker())
	assert.Equal(t, "ExecutionRoleMissing", report.Accounts[2].StatusReason)
}

func TestPollerFullSuccess(t *testing.T) {
	fetcher := &scriptedFetcher{polls: []map[string]deploy.AccountState{
		{"A": {Status: deploy.AccountSucceeded}, "B": {Status: deploy.AccountSucceeded}},
	}}
	syncer := &recordingSyncer{}
	poller := NewPoller(fetcher, syncer, quietLogger(), WithInterval(5*time.Millisecond))

	h := poller.Start(context.Background(), newOp("A", "B"))
	waitDone(t, h)

	assert.Equal(t, StateConvergedSuccess, h.Tracker().State())
	calls, accounts := syncer.snapshot()
	assert.Equal(t, 1, calls)
	assert.Len(t, accounts, 2)
}

func TestPollerStallsWithoutSync(t *testing.T) {
	pending := map[string]deploy.AccountState{
		"A": {Status: deploy.AccountPending},
		"B": {Status: deploy.AccountPending},
	}
	fetcher := &scriptedFetcher{polls: []map[string]deploy.AccountState{pending}}
	syncer := &recordingSyncer{}
	poller := NewPoller(fetcher, syncer, quietLogger(), WithInterval(5*time.Millisecond), WithStallThreshold(3))

	h := poller.Start(context.Background(), newOp("A", "B"))
	waitDone(t, h)

	assert.Equal(t, StateStalled, h.Tracker().State())
	calls, _ := syncer.snapshot()
	assert.Zero(t, calls)
}

func TestPollerToleratesFetchErrors(t *testing.T) {
	converged := map[string]deploy.AccountState{"A": {Status: deploy.AccountSucceeded}}
	fetcher := &scriptedFetcher{
		polls: []map[string]deploy.AccountState{nil, converged},
		errs:  []error{errors.New("transient"), nil},
	}
	syncer := &recordingSyncer{}
	poller := NewPoller(fetcher, syncer, quietLogger(), WithInterval(5*time.Millisecond))

	h := poller.Start(context.Background(), newOp("A"))
	waitDone(t, h)

	assert.Equal(t, StateConvergedSuccess, h.Tracker().State())
}

func TestPollerCancellation(t *testing.T) {
	pending := map[string]deploy.AccountState{"A": {Status: deploy.AccountPending}}
	fetcher := &scriptedFetcher{polls: []map[string]deploy.AccountState{pending}}
	syncer := &recordingSyncer{}
	poller := NewPoller(fetcher, syncer, quietLogger(), WithInterval(time.Hour))

	h := poller.Start(context.Background(), newOp("A"))
	h.Cancel()
	waitDone(t, h)

	calls, _ := syncer.snapshot()
	assert.Zero(t, calls)
}

func TestRegistryLookup(t *testing.T) {
	fetcher := &scriptedFetcher{polls: []map[string]deploy.AccountState{
		{"A": {Status: deploy.AccountSucceeded}},
	}}
	poller := NewPoller(fetcher, &recordingSyncer{}, quietLogger(), WithInterval(5*time.Millisecond))
	reg := NewRegistry()

	h := poller.Start(context.Background(), newOp("A"))
	reg.Add(h)

	byOp, err := reg.ByOperation("op-1")
	require.NoError(t, err)
	assert.Same(t, h, byOp)

	byOrg, err := reg.ByOrganization("o-abc123")
	require.NoError(t, err)
	assert.Same(t, h, byOrg)

	_, err = reg.ByOperation("op-missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	waitDone(t, h)
	reg.CancelAll()
}
