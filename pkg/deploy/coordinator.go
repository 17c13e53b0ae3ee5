package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// StackSetClient is the slice of the provider API the coordinator needs.
// Implementations classify failures into *deploy.Error before returning.
type StackSetClient interface {
	// CreateStackInstances requests stack instances for the given accounts
	// and returns the remote operation id.
	CreateStackInstances(ctx context.Context, stackSetName string, accountIDs []string, region string) (string, error)
}

// SubmitRequest carries everything one deployment submission needs. The
// stack set content itself is opaque to the orchestrator; only its name and
// the external id correlating this onboarding session matter here.
type SubmitRequest struct {
	OrganizationID string
	Plan           *orgmodel.DeploymentPlan
	StackSetName   string
	Region         string
	ExternalID     string
}

// Coordinator issues deployment operations.
type Coordinator struct {
	client      StackSetClient
	log         *observability.Logger
	maxAttempts uint
	metrics     *observability.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThrottleAttempts bounds the internal retry budget for throttled
// submissions. Minimum 1 (a single attempt, no retry).
func WithThrottleAttempts(n uint) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a deployment coordinator.
func NewCoordinator(client StackSetClient, log *observability.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:      client,
		log:         log,
		maxAttempts: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit issues one stack set operation against the plan's resolved targets
// and returns the operation record in state SUBMITTED.
//
// Throttled is retried here with exponential backoff up to the configured
// attempt budget; every other category is returned to the caller unchanged
// so category-specific remediation can be rendered. Submission is not
// idempotent at the provider: callers must check prior status before
// resubmitting on ambiguous failures.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*DeploymentOperation, error) {
	if req.Plan == nil || req.Plan.TargetCount() == 0 {
		return nil, fmt.Errorf("refusing to submit an empty deployment plan")
	}
	if req.StackSetName == "" {
		return nil, fmt.Errorf("stack set name is required")
	}

	log := c.log.WithFields(map[string]interface{}{
		"organization_id": req.OrganizationID,
		"stack_set":       req.StackSetName,
		"target_count":    req.Plan.TargetCount(),
	})
	log.Info("submitting organization deployment")

	operationID, err := c.submitWithRetry(ctx, req)
	if err != nil {
		de := AsError(err)
		log.WithError(de).WithField("category", string(de.Category)).Error("deployment submission failed")
		if c.metrics != nil {
			c.metrics.DeploymentErrorsTotal.WithLabelValues(string(de.Category)).Inc()
		}
		return nil, de
	}

	if c.metrics != nil {
		c.metrics.DeploymentsSubmittedTotal.Inc()
	}
	log.WithField("operation_id", operationID).Info("deployment submitted")

	op := NewOperation(operationID, req.OrganizationID, req.StackSetName, req.Region, req.ExternalID, req.Plan.ResolvedTargetAccountIDs)
	return op, nil
}

func (c *Coordinator) submitWithRetry(ctx context.Context, req SubmitRequest) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		id, err := c.client.CreateStackInstances(ctx, req.StackSetName, req.Plan.ResolvedTargetAccountIDs, req.Region)
		if err == nil {
			return id, nil
		}
		if IsThrottled(err) {
			c.log.WithField("attempt", attempt).Warn("deployment submission throttled, backing off")
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxAttempts),
	)
}
