package awscloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
)

// cloudFormationAPI is the slice of the CloudFormation SDK client the stack
// set adapter calls.
type cloudFormationAPI interface {
	CreateStackInstances(ctx context.Context, params *cloudformation.CreateStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackInstancesOutput, error)
	ListStackInstances(ctx context.Context, params *cloudformation.ListStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackInstancesOutput, error)
}

// StackSetsClient adapts CloudFormation StackSets for the deployment
// coordinator and the status reconciler. Failures come back classified as
// *deploy.Error.
type StackSetsClient struct {
	api cloudFormationAPI
	log *observability.Logger
}

// CreateStackInstances requests one stack instance per target account and
// returns the remote operation id.
//
// Failure tolerance is set to 100% so one broken account never cancels the
// instances of the others; per-account outcomes are reconciled individually.
func (c *StackSetsClient) CreateStackInstances(ctx context.Context, stackSetName string, accountIDs []string, region string) (string, error) {
	ctx, span := tracer.Start(ctx, "StackSets.CreateStackInstances",
		trace.WithAttributes(
			attribute.String("stackset.name", stackSetName),
			attribute.String("stackset.region", region),
			attribute.Int("stackset.accounts", len(accountIDs)),
		),
	)
	defer span.End()

	out, err := c.api.CreateStackInstances(ctx, &cloudformation.CreateStackInstancesInput{
		StackSetName: aws.String(stackSetName),
		Accounts:     accountIDs,
		Regions:      []string{region},
		OperationPreferences: &cfntypes.StackSetOperationPreferences{
			FailureTolerancePercentage: aws.Int32(100),
			MaxConcurrentPercentage:    aws.Int32(100),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create stack instances failed")
		return "", classifyStackSetError(err, accountIDs)
	}

	operationID := aws.ToString(out.OperationId)
	span.SetAttributes(attribute.String("stackset.operation_id", operationID))
	return operationID, nil
}

// FetchAccountStates lists every stack instance of the operation's stack set
// in its region and maps the detailed instance status onto per-account
// deployment states. Implements reconcile.StatusFetcher.
func (c *StackSetsClient) FetchAccountStates(ctx context.Context, op *deploy.DeploymentOperation) (map[string]deploy.AccountState, error) {
	ctx, span := tracer.Start(ctx, "StackSets.ListStackInstances",
		trace.WithAttributes(
			attribute.String("stackset.name", op.StackSetName),
			attribute.String("stackset.operation_id", op.OperationID),
		),
	)
	defer span.End()

	states := make(map[string]deploy.AccountState)
	paginator := cloudformation.NewListStackInstancesPaginator(c.api, &cloudformation.ListStackInstancesInput{
		StackSetName:        aws.String(op.StackSetName),
		StackInstanceRegion: aws.String(op.Region),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list stack instances failed")
			return nil, classifyStackSetError(err, nil)
		}
		for _, instance := range page.Summaries {
			states[aws.ToString(instance.Account)] = accountStateFromInstance(instance)
		}
	}

	span.SetAttributes(attribute.Int("stackset.instances", len(states)))
	return states, nil
}

func accountStateFromInstance(instance cfntypes.StackInstanceSummary) deploy.AccountState {
	detail := aws.ToString(instance.StatusReason)

	var detailed cfntypes.StackInstanceDetailedStatus
	if instance.StackInstanceStatus != nil {
		detailed = instance.StackInstanceStatus.DetailedStatus
	}

	switch detailed {
	case cfntypes.StackInstanceDetailedStatusSucceeded:
		return deploy.AccountState{Status: deploy.AccountSucceeded}
	case cfntypes.StackInstanceDetailedStatusFailed,
		cfntypes.StackInstanceDetailedStatusCancelled,
		cfntypes.StackInstanceDetailedStatusInoperable:
		return deploy.AccountState{
			Status: deploy.AccountFailed,
			Reason: classifyStatusReason(detail),
			Detail: detail,
		}
	}

	// The summary-level status is the fallback for providers that omit the
	// detailed status block.
	switch instance.Status {
	case cfntypes.StackInstanceStatusCurrent:
		return deploy.AccountState{Status: deploy.AccountSucceeded}
	case cfntypes.StackInstanceStatusInoperable:
		return deploy.AccountState{
			Status: deploy.AccountFailed,
			Reason: classifyStatusReason(detail),
			Detail: detail,
		}
	default:
		return deploy.AccountState{Status: deploy.AccountPending}
	}
}
