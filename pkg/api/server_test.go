package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgdeploy/pkg/awscloud"
	"github.com/platinummonkey/orgdeploy/pkg/catalog"
	"github.com/platinummonkey/orgdeploy/pkg/config"
	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
	"github.com/platinummonkey/orgdeploy/pkg/reconcile"
	"github.com/platinummonkey/orgdeploy/pkg/selfreg"
)

// fakeOrgClient serves a fixed snapshot shape: one root with the management
// account and two member accounts.
type fakeOrgClient struct {
	detectErr error
}

func (f *fakeOrgClient) DescribeOrganization(ctx context.Context) (*detector.OrganizationInfo, error) {
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return &detector.OrganizationInfo{ID: "o-abc123", ManagementAccountID: "111111111111"}, nil
}

func (f *fakeOrgClient) ListRoots(ctx context.Context) ([]detector.UnitSummary, error) {
	return []detector.UnitSummary{{ID: "r-1", Name: "Root"}}, nil
}

func (f *fakeOrgClient) ListUnits(ctx context.Context, parentID string) ([]detector.UnitSummary, error) {
	return nil, nil
}

func (f *fakeOrgClient) ListAccounts(ctx context.Context, parentID string) ([]orgmodel.AccountRef, error) {
	return []orgmodel.AccountRef{
		{ID: "111111111111", DisplayName: "management", LifecycleStatus: orgmodel.LifecycleActive},
		{ID: "222222222222", DisplayName: "prod", LifecycleStatus: orgmodel.LifecycleActive},
		{ID: "333333333333", DisplayName: "dev", LifecycleStatus: orgmodel.LifecycleActive},
	}, nil
}

// fakeStackSets succeeds the whole target set on the first status fetch.
type fakeStackSets struct {
	mu        sync.Mutex
	submitErr error
	submitted []string
}

func (f *fakeStackSets) CreateStackInstances(ctx context.Context, stackSetName string, accountIDs []string, region string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = accountIDs
	return "op-1", nil
}

func (f *fakeStackSets) FetchAccountStates(ctx context.Context, op *deploy.DeploymentOperation) (map[string]deploy.AccountState, error) {
	states := make(map[string]deploy.AccountState)
	for _, id := range op.TargetAccountIDs() {
		states[id] = deploy.AccountState{Status: deploy.AccountSucceeded}
	}
	return states, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	synced   []orgmodel.RegisteredAccount
	listed   []orgmodel.RegisteredAccount
	upserted []orgmodel.RegisteredAccount
	calls    int
}

func (f *fakeCatalog) Upsert(ctx context.Context, acct orgmodel.RegisteredAccount) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, acct)
	return true, nil
}

func (f *fakeCatalog) SyncOrganizationAccounts(ctx context.Context, organizationID string, accounts []orgmodel.RegisteredAccount) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.synced = accounts
	return len(accounts), nil
}

func (f *fakeCatalog) ListByOrganization(ctx context.Context, organizationID string) ([]orgmodel.RegisteredAccount, error) {
	return f.listed, nil
}

func (f *fakeCatalog) Get(ctx context.Context, accountID string) (*orgmodel.RegisteredAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.upserted {
		if acct.AccountID == accountID {
			found := acct
			return &found, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", accountID, catalog.ErrNotRegistered)
}

func newTestServer(t *testing.T, org *fakeOrgClient, stackSets *fakeStackSets) (*Server, *fakeCatalog) {
	t.Helper()
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)

	factory := func(ctx context.Context, in detector.DetectInput) (detector.OrganizationsClient, error) {
		return org, nil
	}
	cat := &fakeCatalog{}

	s := NewServer(Dependencies{
		Log:      log,
		Detector: detector.New(factory, log),
		StackSets: func(cred awscloud.Credential) StackSetClient {
			return stackSets
		},
		Catalog:  cat,
		Monitor:  selfreg.NewMonitor(selfreg.NewMemoryStore(), log),
		Registry: reconcile.NewRegistry(),
		Deploy: config.DeploymentConfig{
			StackSetName:     "orgdeploy-analysis-role",
			AnalysisRoleName: "OrgAnalysisReadOnlyRole",
			PollInterval:     5 * time.Millisecond,
			StallThreshold:   3,
		},
	})
	return s, cat
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, r)
	return rec
}

func TestDetectOrganization(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/detect", DetectRequest{
		RoleARN: "arn:aws:iam::111111111111:role/mgmt",
		Region:  "us-east-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot orgmodel.OrganizationSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "o-abc123", snapshot.OrganizationID)
	require.Len(t, snapshot.Units, 1)
	assert.Len(t, snapshot.Units[0].Accounts, 3)
}

func TestDetectOrganizationRequiresRole(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/detect", DetectRequest{Region: "us-east-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectOrganizationNotManagement(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{detectErr: detector.ErrNotManagementAccount}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/detect", DetectRequest{
		RoleARN: "arn:aws:iam::222222222222:role/member",
		Region:  "us-east-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func deployBody() DeployRequest {
	return DeployRequest{
		RoleARN: "arn:aws:iam::111111111111:role/mgmt",
		Region:  "us-east-1",
		Mode:    string(orgmodel.ModeEntireOrganization),
	}
}

func TestDeployOrganization(t *testing.T) {
	stackSets := &fakeStackSets{}
	s, _ := newTestServer(t, &fakeOrgClient{}, stackSets)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", deployBody())
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "op-1", resp.OperationID)
	assert.Equal(t, 2, resp.TargetAccounts)

	// Management account is never targeted.
	stackSets.mu.Lock()
	submitted := stackSets.submitted
	stackSets.mu.Unlock()
	assert.Equal(t, []string{"222222222222", "333333333333"}, submitted)
}

func TestDeployOrganizationInvalidMode(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	body := deployBody()
	body.Mode = "everything"
	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployOrganizationIDMismatch(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-other/deployments", deployBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployOrganizationUnknownUnit(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	body := deployBody()
	body.Mode = string(orgmodel.ModeSpecificUnits)
	body.SelectedUnitIDs = []string{"ou-missing"}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ou-missing")
}

func TestDeployOrganizationExecutionRoleMissing(t *testing.T) {
	de := deploy.NewError(deploy.CategoryExecutionRoleMissing, "role missing in 333333333333", nil)
	de.ExcludedAccountIDs = []string{"333333333333"}
	de.DeployableAccountIDs = []string{"222222222222"}
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{submitErr: de})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", deployBody())
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp DeployErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ExecutionRoleMissing", resp.Category)
	assert.Equal(t, []string{"333333333333"}, resp.ExcludedAccounts)
	assert.Equal(t, []string{"222222222222"}, resp.DeployableAccounts)
	assert.NotEmpty(t, resp.Suggestion)
}

func TestDeployErrorStatusMapping(t *testing.T) {
	tests := []struct {
		category deploy.ErrorCategory
		status   int
	}{
		{deploy.CategoryAdministrationRoleMissing, http.StatusPreconditionFailed},
		{deploy.CategoryAlreadyExists, http.StatusConflict},
		{deploy.CategoryAccessDenied, http.StatusForbidden},
		{deploy.CategoryThrottled, http.StatusTooManyRequests},
		{deploy.CategoryUnknown, http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, deployErrorStatus(tt.category), string(tt.category))
	}
}

func waitForState(t *testing.T, s *Server, orgID string, want reconcile.AggregateState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		h, err := s.registry.ByOrganization(orgID)
		if err == nil && h.Tracker().State() == want {
			// The poll loop exits (and syncs) after reaching a terminal
			// state; wait for it so assertions see the final effects.
			select {
			case <-h.Done():
			case <-deadline:
				t.Fatalf("poll loop for %s did not stop", orgID)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("organization %s never reached state %s", orgID, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDeploymentStatusLifecycle(t *testing.T) {
	s, cat := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", deployBody())
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForState(t, s, "o-abc123", reconcile.StateConvergedSuccess)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/organizations/o-abc123/deployments/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report reconcile.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, reconcile.StateConvergedSuccess, report.State)
	assert.Equal(t, 2, report.SuccessfulDeployments)
	assert.Zero(t, report.FailedDeployments)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/deployments/op-1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Convergence triggered the catalog sync.
	cat.mu.Lock()
	calls := cat.calls
	cat.mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDeploymentStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodGet, "/api/v1/organizations/o-none/deployments/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, s, http.MethodGet, "/api/v1/deployments/op-none/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncOrganizationAccounts(t *testing.T) {
	s, cat := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/deployments", deployBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForState(t, s, "o-abc123", reconcile.StateConvergedSuccess)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/organizations/o-abc123/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.SyncedAccounts)

	cat.mu.Lock()
	defer cat.mu.Unlock()
	require.Len(t, cat.synced, 2)
	assert.Equal(t, "arn:aws:iam::222222222222:role/OrgAnalysisReadOnlyRole", cat.synced[0].RoleARN)
	assert.Equal(t, orgmodel.RegistrationOrgSync, cat.synced[0].RegistrationType)
}

func TestListOrganizationAccounts(t *testing.T) {
	s, cat := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	cat.listed = []orgmodel.RegisteredAccount{{AccountID: "222222222222"}}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/organizations/o-abc123/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AccountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "222222222222", resp.Accounts[0].AccountID)
}

func TestSelfRegistrationFlow(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/self-registration/watch", WatchRequest{Timeout: "1m"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var watch WatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &watch))
	require.NotEmpty(t, watch.ExternalID)
	assert.Equal(t, string(selfreg.OutcomePending), watch.Outcome)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/self-registration", selfreg.Registration{
		ExternalID: watch.ExternalID,
		AccountID:  "222222222222",
		RoleARN:    "arn:aws:iam::222222222222:role/OrgAnalysisReadOnlyRole",
		Region:     "us-east-1",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/self-registration/watch/"+watch.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &watch))
	require.Len(t, watch.Accounts, 1)
	assert.Equal(t, "222222222222", watch.Accounts[0].AccountID)
}

func TestSelfRegistrationPersistedToCatalog(t *testing.T) {
	s, cat := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/self-registration/watch", WatchRequest{Timeout: "1m"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var watch WatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &watch))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/self-registration", selfreg.Registration{
		ExternalID:     watch.ExternalID,
		AccountID:      "222222222222",
		RoleARN:        "arn:aws:iam::222222222222:role/OrgAnalysisReadOnlyRole",
		Region:         "us-east-1",
		OrganizationID: "o-abc123",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The accepted registration must land as a durable catalog row, not
	// just in the in-memory watch session.
	require.Eventually(t, func() bool {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		return len(cat.upserted) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cat.mu.Lock()
	acct := cat.upserted[0]
	cat.mu.Unlock()
	assert.Equal(t, "222222222222", acct.AccountID)
	assert.Equal(t, orgmodel.RegistrationSelf, acct.RegistrationType)
	assert.Equal(t, "o-abc123", acct.OrganizationID)

	// And it is readable back through the account endpoint.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/accounts/222222222222", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWatchEvictedAfterRetention(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	s.watchRetention = 10 * time.Millisecond

	rec := doJSON(t, s, http.MethodPost, "/api/v1/self-registration/watch", WatchRequest{ExternalID: "ext-evict", Timeout: "1m"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The organization id completes the watch early; eviction follows the
	// retention window.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/self-registration", selfreg.Registration{
		ExternalID:     "ext-evict",
		AccountID:      "222222222222",
		OrganizationID: "o-abc123",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/self-registration/watch/ext-evict", nil)
		return rec.Code == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetAccount(t *testing.T) {
	s, cat := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	cat.upserted = []orgmodel.RegisteredAccount{{
		AccountID:        "222222222222",
		OrganizationID:   "o-abc123",
		RegistrationType: orgmodel.RegistrationSelf,
	}}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/accounts/222222222222", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var acct orgmodel.RegisteredAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, orgmodel.RegistrationSelf, acct.RegistrationType)
	assert.Equal(t, "o-abc123", acct.OrganizationID)
}

func TestGetAccountNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodGet, "/api/v1/accounts/999999999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelfRegistrationUnknownSession(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/self-registration", selfreg.Registration{
		ExternalID: "ext-unknown",
		AccountID:  "222222222222",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchConflict(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/self-registration/watch", WatchRequest{ExternalID: "ext-1", Timeout: "1m"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/self-registration/watch", WatchRequest{ExternalID: "ext-1", Timeout: "1m"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWatchNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodGet, "/api/v1/self-registration/watch/ext-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeOrgClient{}, &fakeStackSets{})
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
