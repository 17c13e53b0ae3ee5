package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/orgdeploy/pkg/awscloud"
	"github.com/platinummonkey/orgdeploy/pkg/catalog"
	"github.com/platinummonkey/orgdeploy/pkg/deploy"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// orgdeploy-syncer reconciles the account catalog against the live stack set
// on a schedule. It covers the window the in-process poller cannot: stack
// instances created while orgdeployd was down, or deployments finished after
// a restart dropped the operation registry.
var (
	dbURL      = flag.String("db-url", getEnv("ORGDEPLOY_POSTGRES_URL", "postgres://localhost/orgdeploy?sslmode=disable"), "PostgreSQL connection URL")
	orgID      = flag.String("org-id", getEnv("ORGDEPLOY_ORG_ID", ""), "Organization ID to sync (required)")
	roleARN    = flag.String("role-arn", getEnv("ORGDEPLOY_ROLE_ARN", ""), "Management account role ARN to assume (required)")
	region     = flag.String("region", getEnv("ORGDEPLOY_AWS_REGION", "us-east-1"), "AWS region of the stack set")
	externalID = flag.String("external-id", getEnv("ORGDEPLOY_EXTERNAL_ID", ""), "External ID for the assume-role call")
	stackSet   = flag.String("stack-set", getEnv("ORGDEPLOY_STACK_SET_NAME", "orgdeploy-analysis-role"), "Stack set name to reconcile against")
	roleName   = flag.String("role-name", getEnv("ORGDEPLOY_ANALYSIS_ROLE_NAME", "OrgAnalysisReadOnlyRole"), "Analysis role name provisioned in member accounts")
	schedule   = flag.String("schedule", getEnv("ORGDEPLOY_SYNC_SCHEDULE", "*/15 * * * *"), "Cron schedule for catalog sync (default: every 15 minutes)")
	runOnce    = flag.Bool("run-once", false, "Run a single sync and exit (for testing)")
)

func main() {
	flag.Parse()

	if *orgID == "" || *roleARN == "" {
		log.Fatalf("--org-id and --role-arn are required")
	}

	// Connect to database
	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Verify connection
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	store := catalog.NewStore(db, logger)

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure catalog schema: %v", err)
	}

	provider, err := awscloud.NewProvider(ctx, *region, logger)
	if err != nil {
		log.Fatalf("Failed to initialize AWS provider: %v", err)
	}
	client := provider.StackSets(awscloud.Credential{
		RoleARN:    *roleARN,
		Region:     *region,
		ExternalID: *externalID,
	})

	// Run once mode (for testing or backfilling)
	if *runOnce {
		log.Printf("Running catalog sync for organization %s", *orgID)
		if err := runSync(ctx, client, store); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Println("Sync completed successfully")
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err = c.AddFunc(*schedule, func() {
		log.Printf("Starting catalog sync for organization %s", *orgID)

		syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := runSync(syncCtx, client, store); err != nil {
			log.Printf("Catalog sync failed: %v", err)
		} else {
			log.Println("Catalog sync completed successfully")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule catalog sync: %v", err)
	}

	c.Start()
	log.Println("Organization catalog syncer started")
	log.Printf("Sync schedule: %s", *schedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop the cron scheduler
	stopCtx := c.Stop()
	<-stopCtx.Done()

	log.Println("Syncer stopped")
}

// runSync lists every stack instance of the configured stack set and upserts
// the succeeded accounts into the catalog. The operation carries only the
// stack set coordinates; no targets are pre-registered, so the fetch returns
// whatever instances actually exist.
func runSync(ctx context.Context, client *awscloud.StackSetsClient, store *catalog.Store) error {
	op := deploy.NewOperation("catalog-sync", *orgID, *stackSet, *region, *externalID, nil)

	states, err := client.FetchAccountStates(ctx, op)
	if err != nil {
		return err
	}

	var accounts []orgmodel.RegisteredAccount
	for accountID, state := range states {
		if state.Status != deploy.AccountSucceeded {
			continue
		}
		accounts = append(accounts, orgmodel.RegisteredAccount{
			AccountID:        accountID,
			RoleARN:          "arn:aws:iam::" + accountID + ":role/" + *roleName,
			ExternalID:       *externalID,
			Region:           *region,
			OrganizationID:   *orgID,
			RegistrationType: orgmodel.RegistrationOrgSync,
		})
	}

	synced, err := store.SyncOrganizationAccounts(ctx, *orgID, accounts)
	if err != nil {
		return err
	}
	log.Printf("✓ %d accounts synced (%d stack instances inspected)", synced, len(states))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
