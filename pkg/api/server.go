package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/orgdeploy/pkg/awscloud"
	"github.com/platinummonkey/orgdeploy/pkg/config"
	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/httputil"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
	"github.com/platinummonkey/orgdeploy/pkg/reconcile"
	"github.com/platinummonkey/orgdeploy/pkg/selfreg"
)

// StackSetClient bundles the two sides of the stack set API one deployment
// needs: submission and status fetching. *awscloud.StackSetsClient satisfies
// it.
type StackSetClient interface {
	deploy.StackSetClient
	reconcile.StatusFetcher
}

// StackSetFactory builds a stack set client for a customer credential.
type StackSetFactory func(cred awscloud.Credential) StackSetClient

// Catalog is the slice of the account catalog the API serves and feeds.
// *catalog.Store satisfies it.
type Catalog interface {
	Upsert(ctx context.Context, acct orgmodel.RegisteredAccount) (bool, error)
	SyncOrganizationAccounts(ctx context.Context, organizationID string, accounts []orgmodel.RegisteredAccount) (int, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]orgmodel.RegisteredAccount, error)
	Get(ctx context.Context, accountID string) (*orgmodel.RegisteredAccount, error)
}

// defaultWatchRetention is how long an ended watch session stays queryable
// before it is evicted.
const defaultWatchRetention = time.Hour

// Dependencies carries everything the server needs.
type Dependencies struct {
	Log       *observability.Logger
	Metrics   *observability.Metrics
	Detector  *detector.Detector
	StackSets StackSetFactory
	Catalog   Catalog
	Monitor   *selfreg.Monitor
	Registry  *reconcile.Registry
	Deploy    config.DeploymentConfig

	// BaseContext scopes background poll loops; they must outlive the
	// request that started them. Nil uses context.Background.
	BaseContext context.Context
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	log     *observability.Logger
	metrics *observability.Metrics

	detector  *detector.Detector
	stackSets StackSetFactory
	catalog   Catalog
	monitor   *selfreg.Monitor
	registry  *reconcile.Registry
	deployCfg config.DeploymentConfig
	baseCtx   context.Context

	// watches keeps ended sessions queryable after the monitor forgets
	// them, until the retention window evicts them.
	mu             sync.Mutex
	watches        map[string]*selfreg.Watch
	watchRetention time.Duration
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		log:       deps.Log,
		metrics:   deps.Metrics,
		detector:  deps.Detector,
		stackSets: deps.StackSets,
		catalog:   deps.Catalog,
		monitor:   deps.Monitor,
		registry:  deps.Registry,
		deployCfg: deps.Deploy,
		baseCtx:   deps.BaseContext,
		watches:   make(map[string]*selfreg.Watch),

		watchRetention: defaultWatchRetention,
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.handle("/api/v1/organizations/detect", s.detectOrganization, http.MethodPost)

	s.handle("/api/v1/organizations/{orgID}/deployments", s.deployOrganization, http.MethodPost)
	s.handle("/api/v1/organizations/{orgID}/deployments/status", s.getOrganizationDeploymentStatus, http.MethodGet)
	s.handle("/api/v1/deployments/{operationID}/status", s.getDeploymentStatus, http.MethodGet)

	s.handle("/api/v1/organizations/{orgID}/sync", s.syncOrganizationAccounts, http.MethodPost)
	s.handle("/api/v1/organizations/{orgID}/accounts", s.listOrganizationAccounts, http.MethodGet)
	s.handle("/api/v1/accounts/{accountID}", s.getAccount, http.MethodGet)

	s.handle("/api/v1/self-registration", s.selfRegister, http.MethodPost)
	s.handle("/api/v1/self-registration/watch", s.startWatch, http.MethodPost)
	s.handle("/api/v1/self-registration/watch/{externalID}", s.getWatch, http.MethodGet)

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
}

// handle registers a route, instrumented with request metrics when metrics
// are attached. The route template is the metric label, not the raw URL.
func (s *Server) handle(path string, handler http.HandlerFunc, methods ...string) {
	var h http.Handler = handler
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(path, h)
	}
	s.router.Handle(path, h).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the router with the standard middleware stack.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(s.router,
		httputil.RequestIDMiddleware(),
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
		httputil.MaxBytesMiddleware(1<<20),
	)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
