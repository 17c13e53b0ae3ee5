package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// OrganizationInfo is the provider's description of the organization.
type OrganizationInfo struct {
	ID                  string
	ManagementAccountID string
}

// UnitSummary is one node of the flat unit listing.
type UnitSummary struct {
	ID   string
	Name string
}

// OrganizationsClient is the slice of the provider API detection needs.
// Implementations classify failures into the sentinel errors of this
// package before returning (see pkg/awscloud).
type OrganizationsClient interface {
	DescribeOrganization(ctx context.Context) (*OrganizationInfo, error)
	ListRoots(ctx context.Context) ([]UnitSummary, error)
	ListUnits(ctx context.Context, parentID string) ([]UnitSummary, error)
	ListAccounts(ctx context.Context, parentID string) ([]orgmodel.AccountRef, error)
}

// DetectInput identifies the management-account credential and region for
// one detection call.
type DetectInput struct {
	RoleARN    string
	Region     string
	ExternalID string
}

// ClientFactory builds a provider client for the given credential. The
// factory is the seam that lets tests supply fakes and lets production
// assume the customer role per call.
type ClientFactory func(ctx context.Context, in DetectInput) (OrganizationsClient, error)

const (
	defaultCacheSize = 64
	defaultCacheTTL  = 5 * time.Minute

	// accountListConcurrency bounds the parallel per-unit account listings.
	accountListConcurrency = 4
)

// Detector reconstructs organization snapshots.
type Detector struct {
	factory ClientFactory
	log     *observability.Logger
	metrics *observability.Metrics
	cache   *expirable.LRU[string, *orgmodel.OrganizationSnapshot]
}

// Option configures a Detector.
type Option func(*Detector)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithCacheTTL overrides the snapshot cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		d.cache = expirable.NewLRU[string, *orgmodel.OrganizationSnapshot](defaultCacheSize, nil, ttl)
	}
}

// New creates a Detector.
func New(factory ClientFactory, log *observability.Logger, opts ...Option) *Detector {
	d := &Detector{
		factory: factory,
		log:     log,
		cache:   expirable.NewLRU[string, *orgmodel.OrganizationSnapshot](defaultCacheSize, nil, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the organization snapshot for the credential, serving a
// cached snapshot when one is fresh enough.
func (d *Detector) Detect(ctx context.Context, in DetectInput) (*orgmodel.OrganizationSnapshot, error) {
	key := in.RoleARN + "|" + in.Region
	if snapshot, ok := d.cache.Get(key); ok {
		if d.metrics != nil {
			d.metrics.DetectionCacheHits.Inc()
		}
		return snapshot, nil
	}
	if d.metrics != nil {
		d.metrics.DetectionCacheMisses.Inc()
	}
	return d.DetectFresh(ctx, in)
}

// DetectFresh always performs a full detection, bypassing and refreshing
// the cache.
func (d *Detector) DetectFresh(ctx context.Context, in DetectInput) (*orgmodel.OrganizationSnapshot, error) {
	start := time.Now()
	snapshot, err := d.detect(ctx, in)
	if d.metrics != nil {
		d.metrics.DetectionDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		d.metrics.DetectionsTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, err
	}
	d.cache.Add(in.RoleARN+"|"+in.Region, snapshot)
	return snapshot, nil
}

func (d *Detector) detect(ctx context.Context, in DetectInput) (*orgmodel.OrganizationSnapshot, error) {
	client, err := d.factory(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("building organization client: %w", err)
	}

	info, err := client.DescribeOrganization(ctx)
	if err != nil {
		return nil, err
	}

	log := d.log.WithField("organization_id", info.ID)
	log.Debug("walking organizational unit hierarchy")

	units, err := walkUnits(ctx, client)
	if err != nil {
		return nil, err
	}

	// Fetch member accounts per unit in parallel; each goroutine writes
	// only its own index.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(accountListConcurrency)
	for i := range units {
		g.Go(func() error {
			accounts, err := client.ListAccounts(gctx, units[i].ID)
			if err != nil {
				return err
			}
			units[i].Accounts = accounts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := &orgmodel.OrganizationSnapshot{
		OrganizationID:      info.ID,
		ManagementAccountID: info.ManagementAccountID,
		Units:               units,
		DetectedAt:          time.Now().UTC(),
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("detected structure failed validation: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"units":    len(snapshot.Units),
		"accounts": len(snapshot.AllAccounts()),
	}).Info("organization structure detected")

	return snapshot, nil
}

// walkUnits flattens the hierarchy breadth-first starting from the roots.
// Remote listing order is preserved at every level; nothing is re-sorted
// locally.
func walkUnits(ctx context.Context, client OrganizationsClient) ([]orgmodel.OrganizationalUnit, error) {
	roots, err := client.ListRoots(ctx)
	if err != nil {
		return nil, err
	}

	var units []orgmodel.OrganizationalUnit
	type queued struct {
		summary  UnitSummary
		parentID *string
	}
	queue := make([]queued, 0, len(roots))
	for _, root := range roots {
		queue = append(queue, queued{summary: root})
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		units = append(units, orgmodel.OrganizationalUnit{
			ID:       next.summary.ID,
			Name:     next.summary.Name,
			ParentID: next.parentID,
		})

		children, err := client.ListUnits(ctx, next.summary.ID)
		if err != nil {
			return nil, err
		}
		parentID := next.summary.ID
		for _, child := range children {
			queue = append(queue, queued{summary: child, parentID: &parentID})
		}
	}

	return units, nil
}
