package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// ErrNotRegistered is returned by Get for accounts the catalog has never
// seen.
var ErrNotRegistered = errors.New("account not registered")

// Schema creates the catalog table. Applied at startup; safe to re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS registered_accounts (
	account_id        TEXT PRIMARY KEY,
	role_arn          TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	region            TEXT NOT NULL,
	organization_id   TEXT NOT NULL DEFAULT '',
	registration_type TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is the postgres-backed account catalog.
type Store struct {
	db      *sql.DB
	log     *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a catalog store.
func NewStore(db *sql.DB, log *observability.Logger, opts ...Option) *Store {
	s := &Store{db: db, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the catalog table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure catalog schema: %w", err)
	}
	return nil
}

// Upsert inserts the account or, when it already exists, adds missing
// provenance. An existing row's organization id is only filled in when it
// was empty; the registration type of the first registration wins. Returns
// whether a new row was created.
func (s *Store) Upsert(ctx context.Context, acct orgmodel.RegisteredAccount) (bool, error) {
	query := `
		INSERT INTO registered_accounts
			(account_id, role_arn, external_id, region, organization_id, registration_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			organization_id = CASE
				WHEN registered_accounts.organization_id = '' THEN EXCLUDED.organization_id
				ELSE registered_accounts.organization_id
			END,
			updated_at = now()
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		acct.AccountID, acct.RoleARN, acct.ExternalID, acct.Region,
		acct.OrganizationID, string(acct.RegistrationType),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert account %s: %w", acct.AccountID, err)
	}
	return inserted, nil
}

// SyncOrganizationAccounts upserts every account in one transaction.
// Idempotent: replaying the same batch leaves the catalog unchanged.
// Returns the number of accounts in the synced set.
func (s *Store) SyncOrganizationAccounts(ctx context.Context, organizationID string, accounts []orgmodel.RegisteredAccount) (int, error) {
	if len(accounts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO registered_accounts
			(account_id, role_arn, external_id, region, organization_id, registration_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			organization_id = CASE
				WHEN registered_accounts.organization_id = '' THEN EXCLUDED.organization_id
				ELSE registered_accounts.organization_id
			END,
			updated_at = now()
	`
	for _, acct := range accounts {
		if _, err := tx.ExecContext(ctx, query,
			acct.AccountID, acct.RoleARN, acct.ExternalID, acct.Region,
			organizationID, string(acct.RegistrationType),
		); err != nil {
			return 0, fmt.Errorf("failed to sync account %s: %w", acct.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sync transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"organization_id": organizationID,
		"synced_accounts": len(accounts),
	}).Info("organization accounts synced")

	if s.metrics != nil {
		s.metrics.CatalogSyncTotal.Inc()
		s.metrics.CatalogSyncedAccounts.Add(float64(len(accounts)))
	}

	return len(accounts), nil
}

// Get retrieves one registered account.
func (s *Store) Get(ctx context.Context, accountID string) (*orgmodel.RegisteredAccount, error) {
	query := `
		SELECT account_id, role_arn, external_id, region, organization_id, registration_type, created_at, updated_at
		FROM registered_accounts
		WHERE account_id = $1
	`
	acct := &orgmodel.RegisteredAccount{}
	var regType string
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&acct.AccountID, &acct.RoleARN, &acct.ExternalID, &acct.Region,
		&acct.OrganizationID, &regType, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotRegistered)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	acct.RegistrationType = orgmodel.RegistrationType(regType)
	return acct, nil
}

// ListByOrganization returns every registered account of an organization,
// oldest registration first. This is the list the recommendation engine
// consumes.
func (s *Store) ListByOrganization(ctx context.Context, organizationID string) ([]orgmodel.RegisteredAccount, error) {
	query := `
		SELECT account_id, role_arn, external_id, region, organization_id, registration_type, created_at, updated_at
		FROM registered_accounts
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []orgmodel.RegisteredAccount
	for rows.Next() {
		var acct orgmodel.RegisteredAccount
		var regType string
		if err := rows.Scan(
			&acct.AccountID, &acct.RoleARN, &acct.ExternalID, &acct.Region,
			&acct.OrganizationID, &regType, &acct.CreatedAt, &acct.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		acct.RegistrationType = orgmodel.RegistrationType(regType)
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}
