package awscloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// organizationsAPI is the slice of the Organizations SDK client the adapter
// calls. Satisfied by *organizations.Client and by test fakes, and assignable
// to the SDK's generated paginator interfaces.
type organizationsAPI interface {
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
	ListRoots(ctx context.Context, params *organizations.ListRootsInput, optFns ...func(*organizations.Options)) (*organizations.ListRootsOutput, error)
	ListOrganizationalUnitsForParent(ctx context.Context, params *organizations.ListOrganizationalUnitsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListOrganizationalUnitsForParentOutput, error)
	ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// OrganizationsClient adapts the AWS Organizations API to
// detector.OrganizationsClient, classifying failures into the detector's
// sentinel errors.
type OrganizationsClient struct {
	api organizationsAPI
	sts stsAPI
	log *observability.Logger
}

// DescribeOrganization returns the organization identity, verifying that the
// assumed role lives in the management account. Organizations happily
// describes itself from member accounts; detection must not.
func (c *OrganizationsClient) DescribeOrganization(ctx context.Context) (*detector.OrganizationInfo, error) {
	ctx, span := tracer.Start(ctx, "Organizations.DescribeOrganization")
	defer span.End()

	out, err := c.api.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "describe organization failed")
		return nil, classifyOrganizationsError(err)
	}

	identity, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "caller identity lookup failed")
		return nil, classifyOrganizationsError(err)
	}

	managementID := aws.ToString(out.Organization.MasterAccountId)
	if aws.ToString(identity.Account) != managementID {
		span.SetStatus(codes.Error, "caller is not the management account")
		return nil, detector.ErrNotManagementAccount
	}

	info := &detector.OrganizationInfo{
		ID:                  aws.ToString(out.Organization.Id),
		ManagementAccountID: managementID,
	}
	span.SetAttributes(attribute.String("organization.id", info.ID))
	return info, nil
}

// ListRoots returns the organization roots in remote order.
func (c *OrganizationsClient) ListRoots(ctx context.Context) ([]detector.UnitSummary, error) {
	ctx, span := tracer.Start(ctx, "Organizations.ListRoots")
	defer span.End()

	var summaries []detector.UnitSummary
	paginator := organizations.NewListRootsPaginator(c.api, &organizations.ListRootsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list roots failed")
			return nil, classifyOrganizationsError(err)
		}
		for _, root := range page.Roots {
			summaries = append(summaries, detector.UnitSummary{
				ID:   aws.ToString(root.Id),
				Name: aws.ToString(root.Name),
			})
		}
	}
	span.SetAttributes(attribute.Int("organizations.roots", len(summaries)))
	return summaries, nil
}

// ListUnits returns the direct child units of a parent in remote order.
func (c *OrganizationsClient) ListUnits(ctx context.Context, parentID string) ([]detector.UnitSummary, error) {
	ctx, span := tracer.Start(ctx, "Organizations.ListUnits",
		trace.WithAttributes(attribute.String("organizations.parent_id", parentID)),
	)
	defer span.End()

	var summaries []detector.UnitSummary
	paginator := organizations.NewListOrganizationalUnitsForParentPaginator(c.api,
		&organizations.ListOrganizationalUnitsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list organizational units failed")
			return nil, classifyOrganizationsError(err)
		}
		for _, unit := range page.OrganizationalUnits {
			summaries = append(summaries, detector.UnitSummary{
				ID:   aws.ToString(unit.Id),
				Name: aws.ToString(unit.Name),
			})
		}
	}
	return summaries, nil
}

// ListAccounts returns the member accounts directly under a parent in remote
// order, with their lifecycle state.
func (c *OrganizationsClient) ListAccounts(ctx context.Context, parentID string) ([]orgmodel.AccountRef, error) {
	ctx, span := tracer.Start(ctx, "Organizations.ListAccounts",
		trace.WithAttributes(attribute.String("organizations.parent_id", parentID)),
	)
	defer span.End()

	var accounts []orgmodel.AccountRef
	paginator := organizations.NewListAccountsForParentPaginator(c.api,
		&organizations.ListAccountsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list accounts failed")
			return nil, classifyOrganizationsError(err)
		}
		for _, acct := range page.Accounts {
			accounts = append(accounts, orgmodel.AccountRef{
				ID:              aws.ToString(acct.Id),
				DisplayName:     aws.ToString(acct.Name),
				Email:           aws.ToString(acct.Email),
				LifecycleStatus: lifecycleFromAWS(acct.Status),
			})
		}
	}
	span.SetAttributes(attribute.Int("organizations.accounts", len(accounts)))
	return accounts, nil
}

func lifecycleFromAWS(status orgtypes.AccountStatus) orgmodel.LifecycleStatus {
	switch status {
	case orgtypes.AccountStatusActive:
		return orgmodel.LifecycleActive
	case orgtypes.AccountStatusSuspended:
		return orgmodel.LifecycleSuspended
	case orgtypes.AccountStatusPendingClosure:
		return orgmodel.LifecyclePendingClosure
	default:
		// Unknown lifecycle states are treated as not deployable.
		return orgmodel.LifecycleSuspended
	}
}
