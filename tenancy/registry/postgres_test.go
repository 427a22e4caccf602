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
	"encoding/json"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"ledgerline/platform/shared/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db, logger: log.New(log.Writer(), "[TenantRegistry] ", log.LstdFlags)}, mock
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// TestPostgresStoreGet verifies row scanning including JSONB columns.
func TestPostgresStoreGet(t *testing.T) {
	store, mock := newMockStore(t)

	loc := types.DatabaseLocator{Engine: types.EnginePostgres, Host: "db-1", Port: 5432, Database: "tenant_acme", User: "ledgerline"}
	limits := types.DefaultResourceLimits()
	created := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{
		"tenant_id", "database_locator", "lifecycle_state", "created_at",
		"last_migrated_version", "last_backup_at", "resource_limits",
	}).AddRow("acme", mustJSON(t, loc), "ACTIVE", created, "v2", nil, mustJSON(t, limits))

	mock.ExpectQuery(`SELECT tenant_id, database_locator`).WithArgs("acme").WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.TenantID != "acme" || rec.State != types.StateActive {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Locator.Database != "tenant_acme" {
		t.Errorf("Locator.Database = %s, want tenant_acme", rec.Locator.Database)
	}
	if rec.LastMigratedVersion != "v2" {
		t.Errorf("LastMigratedVersion = %s, want v2", rec.LastMigratedVersion)
	}
	if rec.LastBackupAt != nil {
		t.Errorf("LastBackupAt should be nil, got %v", rec.LastBackupAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresStoreGetUnknown verifies no-rows maps to ErrUnknownTenant.
func TestPostgresStoreGetUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT tenant_id, database_locator`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "database_locator", "lifecycle_state", "created_at",
			"last_migrated_version", "last_backup_at", "resource_limits",
		}))

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, types.ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

// TestPostgresStoreCreateConflict verifies the ON CONFLICT path reports
// false so a provisioning race resolves to exactly one record.
func TestPostgresStoreCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO tenants`).WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.Create(context.Background(), testRecord("acme", "tenant_acme"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created {
		t.Error("conflicting create should report false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresStoreConditionalUpdateConflict verifies a zero-row CAS update
// surfaces ErrStateConflict for an existing tenant.
func TestPostgresStoreConditionalUpdateConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tenants`).
		WithArgs("acme", "ACTIVE", "SUSPENDED", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	loc := types.DatabaseLocator{Engine: types.EnginePostgres, Host: "db-1", Port: 5432, Database: "tenant_acme"}
	rows := sqlmock.NewRows([]string{
		"tenant_id", "database_locator", "lifecycle_state", "created_at",
		"last_migrated_version", "last_backup_at", "resource_limits",
	}).AddRow("acme", mustJSON(t, loc), "RESTORING", time.Now(), "", nil, []byte("{}"))
	mock.ExpectQuery(`SELECT tenant_id, database_locator`).WithArgs("acme").WillReturnRows(rows)

	err := store.ConditionalUpdate(context.Background(), "acme",
		types.StateActive, types.StateSuspended, Fields{})
	if !errors.Is(err, types.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresStoreConditionalUpdateSuccess verifies the happy CAS path.
func TestPostgresStoreConditionalUpdateSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	version := "v5"
	mock.ExpectExec(`UPDATE tenants`).
		WithArgs("acme", "ACTIVE", "ACTIVE", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ConditionalUpdate(context.Background(), "acme",
		types.StateActive, types.StateActive, Fields{LastMigratedVersion: &version})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresStoreConditionalUpdateInvalidTransition verifies the state
// machine is enforced before touching the database.
func TestPostgresStoreConditionalUpdateInvalidTransition(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.ConditionalUpdate(context.Background(), "acme",
		types.StateDeactivated, types.StateActive, Fields{})
	if err == nil {
		t.Error("expected invalid transition to be rejected")
	}
}

// TestPostgresStoreSaveRun verifies the run report is serialized to JSONB.
func TestPostgresStoreSaveRun(t *testing.T) {
	store, mock := newMockStore(t)

	run := &types.MigrationRun{
		ID:             "run-1",
		TargetRevision: "v7",
		StartedAt:      time.Now().Add(-time.Minute),
		FinishedAt:     time.Now(),
		Outcomes: []types.TenantOutcome{
			{TenantID: "acme", Status: types.OutcomeSucceeded, Attempts: 1},
			{TenantID: "globex", Status: types.OutcomeFailed, Attempts: 3, Error: "pq: syntax error"},
		},
	}

	mock.ExpectExec(`INSERT INTO migration_runs`).
		WithArgs("run-1", "v7", run.StartedAt, run.FinishedAt, mustJSON(t, run.Outcomes)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
