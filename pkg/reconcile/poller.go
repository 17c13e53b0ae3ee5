package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// StatusFetcher retrieves the full per-account status of an operation from
// the provider. Every call returns the complete current picture; the poller
// never merges partial fetches.
type StatusFetcher interface {
	FetchAccountStates(ctx context.Context, op *deploy.DeploymentOperation) (map[string]deploy.AccountState, error)
}

// CatalogSyncer upserts registered accounts. Implementations must be
// idempotent: the trigger point cannot be made exactly-once across process
// restarts, so a repeated sync for the same operation has to be a no-op.
type CatalogSyncer interface {
	SyncOrganizationAccounts(ctx context.Context, organizationID string, accounts []orgmodel.RegisteredAccount) (int, error)
}

// DefaultPollInterval is the cadence between status polls while an
// operation is in progress.
const DefaultPollInterval = 10 * time.Second

// Poller drives operations to convergence. It is the single logical owner
// of each operation it runs: only the poll loop mutates per-account status.
type Poller struct {
	fetcher        StatusFetcher
	syncer         CatalogSyncer
	log            *observability.Logger
	metrics        *observability.Metrics
	interval       time.Duration
	stallThreshold int
	roleName       string
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithStallThreshold overrides the consecutive-unchanged-poll threshold.
func WithStallThreshold(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.stallThreshold = n
		}
	}
}

// WithRoleName sets the per-account role name recorded on synced accounts.
func WithRoleName(name string) PollerOption {
	return func(p *Poller) { p.roleName = name }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller creates a poller.
func NewPoller(fetcher StatusFetcher, syncer CatalogSyncer, log *observability.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:        fetcher,
		syncer:         syncer,
		log:            log,
		interval:       DefaultPollInterval,
		stallThreshold: DefaultStallThreshold,
		roleName:       "OrgAnalysisReadOnlyRole",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle is a running poll task. Cancel stops future polls without leaving
// the operation partially updated; in-flight observations complete their
// atomic replacement first.
type Handle struct {
	tracker  *Tracker
	cancel   context.CancelFunc
	done     chan struct{}
	syncOnce sync.Once
}

// Tracker exposes the tracker for status reads.
func (h *Handle) Tracker() *Tracker { return h.tracker }

// Cancel stops the poll loop.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the poll loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start launches the poll loop for a submitted operation and returns its
// handle. The caller observes convergence through status queries, never by
// blocking on submission.
func (p *Poller) Start(ctx context.Context, op *deploy.DeploymentOperation) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		tracker: NewTracker(op, p.stallThreshold),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx, h)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle) {
	defer close(h.done)

	op := h.tracker.Operation()
	log := p.log.WithFields(map[string]interface{}{
		"operation_id":    op.OperationID,
		"organization_id": op.OrganizationID,
	})
	log.Infof("polling deployment status every %s", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poll loop cancelled")
			return
		case <-ticker.C:
		}

		state, err := p.pollOnce(ctx, h)
		if err != nil {
			// A failed fetch is tolerated: the next poll recomputes the
			// aggregate from a full fetch anyway.
			log.WithError(err).Warn("status poll failed")
			continue
		}

		switch state {
		case StateConvergedSuccess, StateConvergedPartial:
			log.WithField("state", string(state)).Info("deployment converged")
			if p.metrics != nil {
				p.metrics.ConvergenceTotal.WithLabelValues(string(state)).Inc()
			}
			p.syncConverged(ctx, h, log)
			return
		case StateStalled:
			log.Warnf("no status change across %d polls, abandoning poll loop", p.stallThreshold)
			if p.metrics != nil {
				p.metrics.ConvergenceTotal.WithLabelValues(string(state)).Inc()
			}
			return
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, h *Handle) (AggregateState, error) {
	if p.metrics != nil {
		p.metrics.PollsTotal.Inc()
	}
	states, err := p.fetcher.FetchAccountStates(ctx, h.tracker.Operation())
	if err != nil {
		if p.metrics != nil {
			p.metrics.PollErrorsTotal.Inc()
		}
		return h.tracker.State(), fmt.Errorf("fetching deployment status: %w", err)
	}
	return h.tracker.Observe(states), nil
}

// syncConverged upserts every succeeded target into the account catalog.
// Guarded by a once so a single poll loop triggers it a single time; the
// syncer itself stays idempotent for the crash-and-resume case.
func (p *Poller) syncConverged(ctx context.Context, h *Handle, log *observability.Logger) {
	op := h.tracker.Operation()
	succeeded := op.SucceededAccountIDs()
	if len(succeeded) == 0 {
		log.Warn("converged with zero successful accounts, nothing to sync")
		return
	}

	h.syncOnce.Do(func() {
		accounts := make([]orgmodel.RegisteredAccount, 0, len(succeeded))
		for _, id := range succeeded {
			accounts = append(accounts, orgmodel.RegisteredAccount{
				AccountID:        id,
				RoleARN:          fmt.Sprintf("arn:aws:iam::%s:role/%s", id, p.roleName),
				ExternalID:       op.ExternalID,
				Region:           op.Region,
				OrganizationID:   op.OrganizationID,
				RegistrationType: orgmodel.RegistrationOrgSync,
			})
		}

		synced, err := p.syncer.SyncOrganizationAccounts(ctx, op.OrganizationID, accounts)
		if err != nil {
			log.WithError(err).Error("account catalog sync failed; a later retry is safe")
			return
		}
		log.WithField("synced_accounts", synced).Info("account catalog synced")

		if p.metrics != nil {
			failed := op.FailedAccounts()
			p.metrics.AccountsConverged.WithLabelValues(string(deploy.AccountSucceeded)).Add(float64(len(succeeded)))
			p.metrics.AccountsConverged.WithLabelValues(string(deploy.AccountFailed)).Add(float64(len(failed)))
		}
	})
}
