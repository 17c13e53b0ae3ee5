package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/orgdeploy/pkg/awscloud"
	"github.com/platinummonkey/orgdeploy/pkg/catalog"
	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/httputil"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
	"github.com/platinummonkey/orgdeploy/pkg/planner"
	"github.com/platinummonkey/orgdeploy/pkg/reconcile"
)

// detectOrganization handles POST /api/v1/organizations/detect
func (s *Server) detectOrganization(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleARN, "roleArn") ||
		!httputil.RequireNonEmpty(w, req.Region, "region") {
		return
	}

	in := detector.DetectInput{RoleARN: req.RoleARN, Region: req.Region, ExternalID: req.ExternalID}
	var (
		snapshot *orgmodel.OrganizationSnapshot
		err      error
	)
	if req.Fresh {
		snapshot, err = s.detector.DetectFresh(r.Context(), in)
	} else {
		snapshot, err = s.detector.Detect(r.Context(), in)
	}
	if err != nil {
		s.writeDetectionError(w, err)
		return
	}

	httputil.WriteSuccess(w, snapshot)
}

func (s *Server) writeDetectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, detector.ErrNotManagementAccount):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, detector.ErrInsufficientPermissions):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, detector.ErrRemoteUnavailable):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// deployOrganization handles POST /api/v1/organizations/{orgID}/deployments
func (s *Server) deployOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req DeployRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleARN, "roleArn") ||
		!httputil.RequireNonEmpty(w, req.Region, "region") {
		return
	}
	mode := orgmodel.DeploymentMode(req.Mode)
	if !mode.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid mode %q: must be %s or %s",
			req.Mode, orgmodel.ModeEntireOrganization, orgmodel.ModeSpecificUnits))
		return
	}

	in := detector.DetectInput{RoleARN: req.RoleARN, Region: req.Region, ExternalID: req.ExternalID}
	snapshot, err := s.detector.Detect(r.Context(), in)
	if err != nil {
		s.writeDetectionError(w, err)
		return
	}
	if snapshot.OrganizationID != orgID {
		httputil.WriteBadRequest(w, fmt.Sprintf("credential belongs to organization %s, not %s",
			snapshot.OrganizationID, orgID))
		return
	}

	plan, err := planner.Plan(snapshot, mode, req.SelectedUnitIDs, req.Exclusions)
	if err != nil {
		s.writePlanError(w, err)
		return
	}

	stackSetName := req.StackSetName
	if stackSetName == "" {
		stackSetName = s.deployCfg.StackSetName
	}
	cred := awscloud.Credential{RoleARN: req.RoleARN, Region: req.Region, ExternalID: req.ExternalID}
	client := s.stackSets(cred)

	coordOpts := []deploy.Option{}
	if s.metrics != nil {
		coordOpts = append(coordOpts, deploy.WithMetrics(s.metrics))
	}
	coordinator := deploy.NewCoordinator(client, s.log, coordOpts...)

	op, err := coordinator.Submit(r.Context(), deploy.SubmitRequest{
		OrganizationID: orgID,
		Plan:           plan,
		StackSetName:   stackSetName,
		Region:         req.Region,
		ExternalID:     req.ExternalID,
	})
	if err != nil {
		s.writeDeployError(w, err)
		return
	}

	pollOpts := []reconcile.PollerOption{
		reconcile.WithInterval(s.deployCfg.PollInterval),
		reconcile.WithStallThreshold(s.deployCfg.StallThreshold),
		reconcile.WithRoleName(s.deployCfg.AnalysisRoleName),
	}
	if s.metrics != nil {
		pollOpts = append(pollOpts, reconcile.WithMetrics(s.metrics))
	}
	poller := reconcile.NewPoller(client, s.catalog, s.log, pollOpts...)

	// Poll loops are scoped to the server, not the request: the caller
	// observes convergence through the status endpoint.
	h := poller.Start(s.baseCtx, op)
	s.registry.Add(h)

	resp := DeployResponse{
		OperationID:     op.OperationID,
		Message:         "deployment submitted",
		TargetAccounts:  plan.TargetCount(),
		SkippedAccounts: plan.SkippedAccountIDs,
	}
	if len(plan.SkippedAccountIDs) > 0 {
		resp.Warning = fmt.Sprintf("%d accounts skipped: lifecycle state cannot receive deployments", len(plan.SkippedAccountIDs))
	}
	httputil.WriteAccepted(w, resp)
}

func (s *Server) writePlanError(w http.ResponseWriter, err error) {
	var unknown *planner.UnknownUnitError
	switch {
	case errors.As(err, &unknown):
		httputil.WriteDetailedError(w, http.StatusBadRequest, err.Error(),
			map[string]string{"unitId": unknown.UnitID})
	case errors.Is(err, planner.ErrNoUnitsSelected):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, planner.ErrEmptyPlan):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httputil.WriteBadRequest(w, err.Error())
	}
}

func (s *Server) writeDeployError(w http.ResponseWriter, err error) {
	de := deploy.AsError(err)
	status := deployErrorStatus(de.Category)
	httputil.WriteJSON(w, status, DeployErrorResponse{
		Error:              de.Error(),
		Category:           string(de.Category),
		Suggestion:         de.Suggestion,
		ExcludedAccounts:   de.ExcludedAccountIDs,
		DeployableAccounts: de.DeployableAccountIDs,
	})
}

func deployErrorStatus(category deploy.ErrorCategory) int {
	switch category {
	case deploy.CategoryAdministrationRoleMissing:
		return http.StatusPreconditionFailed
	case deploy.CategoryExecutionRoleMissing:
		return http.StatusUnprocessableEntity
	case deploy.CategoryAlreadyExists:
		return http.StatusConflict
	case deploy.CategoryAccessDenied:
		return http.StatusForbidden
	case deploy.CategoryThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// getOrganizationDeploymentStatus handles GET /api/v1/organizations/{orgID}/deployments/status
func (s *Server) getOrganizationDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	h, err := s.registry.ByOrganization(orgID)
	if err != nil {
		httputil.WriteNotFound(w, fmt.Sprintf("no deployment operation for organization %s", orgID))
		return
	}
	httputil.WriteSuccess(w, reconcile.BuildReport(h.Tracker()))
}

// getDeploymentStatus handles GET /api/v1/deployments/{operationID}/status
func (s *Server) getDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	operationID, ok := httputil.ParsePathStringOrError(w, r, "operationID")
	if !ok {
		return
	}
	h, err := s.registry.ByOperation(operationID)
	if err != nil {
		httputil.WriteNotFound(w, fmt.Sprintf("unknown deployment operation %s", operationID))
		return
	}
	httputil.WriteSuccess(w, reconcile.BuildReport(h.Tracker()))
}

// syncOrganizationAccounts handles POST /api/v1/organizations/{orgID}/sync.
// It upserts the succeeded accounts of the organization's latest operation
// into the catalog. Idempotent; safe to call at any point of convergence.
func (s *Server) syncOrganizationAccounts(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	h, err := s.registry.ByOrganization(orgID)
	if err != nil {
		httputil.WriteNotFound(w, fmt.Sprintf("no deployment operation for organization %s", orgID))
		return
	}

	op := h.Tracker().Operation()
	var accounts []orgmodel.RegisteredAccount
	for _, accountID := range op.SucceededAccountIDs() {
		accounts = append(accounts, orgmodel.RegisteredAccount{
			AccountID:        accountID,
			RoleARN:          fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, s.deployCfg.AnalysisRoleName),
			ExternalID:       op.ExternalID,
			Region:           op.Region,
			OrganizationID:   orgID,
			RegistrationType: orgmodel.RegistrationOrgSync,
		})
	}

	synced, err := s.catalog.SyncOrganizationAccounts(r.Context(), orgID, accounts)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, SyncResponse{OrganizationID: orgID, SyncedAccounts: synced})
}

// getAccount handles GET /api/v1/accounts/{accountID}
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := httputil.ParsePathStringOrError(w, r, "accountID")
	if !ok {
		return
	}
	acct, err := s.catalog.Get(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotRegistered) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, acct)
}

// listOrganizationAccounts handles GET /api/v1/organizations/{orgID}/accounts
func (s *Server) listOrganizationAccounts(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	accounts, err := s.catalog.ListByOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, AccountsResponse{OrganizationID: orgID, Accounts: accounts})
}
