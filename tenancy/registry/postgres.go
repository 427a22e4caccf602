// Copyright 2025 LedgerLine
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"ledgerline/platform/shared/types"
)

// PostgresStore implements Store on the platform database. The platform
// database is separate from every tenant database; it holds only the
// catalog, backup records, and migration run reports.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore connects to the platform database and initializes the
// catalog schema.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	// Retry connection with backoff to ride out container DNS and
	// database startup delays.
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[TenantRegistry] Database connection failed (attempt %d/%d): %v, retrying in %v",
				attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to platform database after %d attempts: %w", maxRetries, err)
	}

	store := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[TenantRegistry] ", log.LstdFlags),
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}

	store.logger.Println("PostgreSQL tenant registry initialized")
	return store, nil
}

// initSchema creates the catalog tables if they don't exist.
func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS tenants (
		tenant_id VARCHAR(255) PRIMARY KEY,
		database_locator JSONB NOT NULL,
		database_name VARCHAR(255) NOT NULL UNIQUE,
		lifecycle_state VARCHAR(32) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_migrated_version VARCHAR(255) NOT NULL DEFAULT '',
		last_backup_at TIMESTAMPTZ,
		resource_limits JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS idx_tenants_state ON tenants(lifecycle_state);

	CREATE TABLE IF NOT EXISTS tenant_backups (
		id VARCHAR(255) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id),
		storage_locator TEXT NOT NULL,
		taken_at TIMESTAMPTZ NOT NULL,
		size_bytes BIGINT NOT NULL,
		checksum VARCHAR(64) NOT NULL,
		revision VARCHAR(255) NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_backups_tenant ON tenant_backups(tenant_id, taken_at DESC);

	CREATE TABLE IF NOT EXISTS migration_runs (
		id VARCHAR(255) PRIMARY KEY,
		target_revision VARCHAR(255) NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		outcomes JSONB NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Get returns the record for tenantID, or types.ErrUnknownTenant.
func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*types.TenantRecord, error) {
	query := `
		SELECT tenant_id, database_locator, lifecycle_state, created_at,
		       last_migrated_version, last_backup_at, resource_limits
		FROM tenants
		WHERE tenant_id = $1
	`
	rec, err := scanTenant(s.db.QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownTenant, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return rec, nil
}

// List returns records matching the filter, ordered by tenant ID.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*types.TenantRecord, error) {
	query := `
		SELECT tenant_id, database_locator, lifecycle_state, created_at,
		       last_migrated_version, last_backup_at, resource_limits
		FROM tenants
		ORDER BY tenant_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.TenantRecord
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		// State/ID filtering happens here rather than in SQL so the
		// memory and postgres stores share one filter semantics.
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Create inserts a new record; reports false when the tenant already exists.
// The unique database_name column enforces that a locator is never reused
// across tenants.
func (s *PostgresStore) Create(ctx context.Context, rec *types.TenantRecord) (bool, error) {
	locatorJSON, err := json.Marshal(rec.Locator)
	if err != nil {
		return false, fmt.Errorf("failed to marshal locator: %w", err)
	}
	limitsJSON, err := json.Marshal(rec.Limits)
	if err != nil {
		return false, fmt.Errorf("failed to marshal limits: %w", err)
	}

	query := `
		INSERT INTO tenants (tenant_id, database_locator, database_name, lifecycle_state,
		                     created_at, last_migrated_version, resource_limits)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.TenantID,
		locatorJSON,
		rec.Locator.Database,
		string(rec.State),
		rec.CreatedAt,
		rec.LastMigratedVersion,
		limitsJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Printf("Registered tenant %s (database: %s)", rec.TenantID, rec.Locator.Database)
	}
	return rowsAffected > 0, nil
}

// ConditionalUpdate applies a compare-and-swap state transition. The WHERE
// clause carries the expected state, so a concurrent transition makes the
// update match zero rows and the call fails without a lost update.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, tenantID string, expected, next types.LifecycleState, fields Fields) error {
	if expected != next && !types.CanTransition(expected, next) {
		return fmt.Errorf("invalid transition %s -> %s for tenant %s", expected, next, tenantID)
	}

	query := `
		UPDATE tenants
		SET lifecycle_state = $3,
		    last_migrated_version = COALESCE($4, last_migrated_version),
		    last_backup_at = COALESCE($5, last_backup_at)
		WHERE tenant_id = $1 AND lifecycle_state = $2
	`

	var version sql.NullString
	if fields.LastMigratedVersion != nil {
		version = sql.NullString{String: *fields.LastMigratedVersion, Valid: true}
	}
	var backupAt sql.NullTime
	if fields.LastBackupAt != nil {
		backupAt = sql.NullTime{Time: *fields.LastBackupAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query, tenantID, string(expected), string(next), version, backupAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing tenant from a state mismatch.
		if _, getErr := s.Get(ctx, tenantID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: tenant %s not in state %s", types.ErrStateConflict, tenantID, expected)
	}

	if expected != next {
		s.logger.Printf("Tenant %s: %s -> %s", tenantID, expected, next)
	}
	return nil
}

// RecordBackup appends an immutable backup record.
func (s *PostgresStore) RecordBackup(ctx context.Context, rec *types.BackupRecord) error {
	query := `
		INSERT INTO tenant_backups (id, tenant_id, storage_locator, taken_at, size_bytes, checksum, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.StorageLocator, rec.TakenAt, rec.Size, rec.Checksum, rec.Revision)
	if err != nil {
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// ListBackups returns a tenant's backup records, newest first.
func (s *PostgresStore) ListBackups(ctx context.Context, tenantID string) ([]*types.BackupRecord, error) {
	query := `
		SELECT id, tenant_id, storage_locator, taken_at, size_bytes, checksum, revision
		FROM tenant_backups
		WHERE tenant_id = $1
		ORDER BY taken_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BackupRecord
	for rows.Next() {
		var rec types.BackupRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.StorageLocator, &rec.TakenAt,
			&rec.Size, &rec.Checksum, &rec.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// SaveRun durably logs a fleet migration report.
func (s *PostgresStore) SaveRun(ctx context.Context, run *types.MigrationRun) error {
	outcomesJSON, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO migration_runs (id, target_revision, started_at, finished_at, outcomes)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.db.ExecContext(ctx, query, run.ID, run.TargetRevision, run.StartedAt, run.FinishedAt, outcomesJSON)
	if err != nil {
		return fmt.Errorf("failed to save migration run: %w", err)
	}
	return nil
}

// Close closes the platform database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scanner) (*types.TenantRecord, error) {
	var rec types.TenantRecord
	var locatorJSON, limitsJSON []byte
	var state string
	var backupAt sql.NullTime

	err := row.Scan(&rec.TenantID, &locatorJSON, &state, &rec.CreatedAt,
		&rec.LastMigratedVersion, &backupAt, &limitsJSON)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(locatorJSON, &rec.Locator); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locator: %w", err)
	}
	if err := json.Unmarshal(limitsJSON, &rec.Limits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
	}
	rec.State = types.LifecycleState(state)
	if backupAt.Valid {
		ts := backupAt.Time
		rec.LastBackupAt = &ts
	}
	return &rec, nil
}

// Verify PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)
