package awscloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/orgdeploy/pkg/awscloud")

const roleSessionName = "orgdeploy"

// Credential identifies one customer management-account role.
type Credential struct {
	RoleARN    string
	Region     string
	ExternalID string
}

// Provider builds per-customer AWS clients from a single base credential
// chain.
type Provider struct {
	base aws.Config
	log  *observability.Logger
}

// NewProvider loads the default credential chain for the given home region.
func NewProvider(ctx context.Context, region string, log *observability.Logger) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Provider{base: cfg, log: log}, nil
}

// NewProviderFromConfig wraps an already-built aws.Config. Used by tests and
// local setups with custom endpoints.
func NewProviderFromConfig(cfg aws.Config, log *observability.Logger) *Provider {
	return &Provider{base: cfg, log: log}
}

// customerConfig derives an aws.Config that runs under the customer role.
// An empty role ARN falls back to the base chain, which only makes sense in
// single-account development setups.
func (p *Provider) customerConfig(cred Credential) aws.Config {
	cfg := p.base.Copy()
	if cred.Region != "" {
		cfg.Region = cred.Region
	}
	if cred.RoleARN == "" {
		return cfg
	}

	stsClient := sts.NewFromConfig(p.base)
	assume := stscreds.NewAssumeRoleProvider(stsClient, cred.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = roleSessionName
		if cred.ExternalID != "" {
			o.ExternalID = aws.String(cred.ExternalID)
		}
	})
	cfg.Credentials = aws.NewCredentialsCache(assume)
	return cfg
}

// OrganizationsFactory returns the client factory the detector uses to get a
// per-credential Organizations view.
func (p *Provider) OrganizationsFactory() detector.ClientFactory {
	return func(ctx context.Context, in detector.DetectInput) (detector.OrganizationsClient, error) {
		cfg := p.customerConfig(Credential{
			RoleARN:    in.RoleARN,
			Region:     in.Region,
			ExternalID: in.ExternalID,
		})
		return &OrganizationsClient{
			api: organizations.NewFromConfig(cfg),
			sts: sts.NewFromConfig(cfg),
			log: p.log,
		}, nil
	}
}

// StackSets returns a stack set client running under the customer role. It
// implements both deploy.StackSetClient and reconcile.StatusFetcher.
func (p *Provider) StackSets(cred Credential) *StackSetsClient {
	cfg := p.customerConfig(cred)
	return &StackSetsClient{
		api: cloudformation.NewFromConfig(cfg),
		log: p.log,
	}
}
