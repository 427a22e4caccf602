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

package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/migration"
	"ledgerline/platform/tenancy/registry"
)

// queueFactory hands out pre-scripted sqlmock databases in order.
type queueFactory struct {
	tenant      []*sql.DB
	server      []*sql.DB
	tenantOpens int32
	serverOpens int32
}

func (f *queueFactory) Open(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error) {
	n := int(atomic.AddInt32(&f.tenantOpens, 1))
	if n > len(f.tenant) {
		return nil, fmt.Errorf("unexpected tenant open #%d", n)
	}
	return f.tenant[n-1], nil
}

func (f *queueFactory) OpenServer(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error) {
	n := int(atomic.AddInt32(&f.serverOpens, 1))
	if n > len(f.server) {
		return nil, fmt.Errorf("unexpected server open #%d", n)
	}
	return f.server[n-1], nil
}

// recordingApplier records baseline applications and returns the target.
type recordingApplier struct {
	calls int32
	fail  error
}

func (a *recordingApplier) Apply(ctx context.Context, tenantID string, loc types.DatabaseLocator, revisions []migration.Revision, target string) (string, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.fail != nil {
		return "", a.fail
	}
	return target, nil
}

func testPlacement() Placement {
	return Placement{
		Engine:         types.EnginePostgres,
		Hosts:          []string{"db-1", "db-2"},
		Port:           5432,
		User:           "ledgerline",
		SSLMode:        "require",
		Limits:         types.DefaultResourceLimits(),
		SeedStatements: []string{"INSERT INTO currencies (code) VALUES ('USD') ON CONFLICT DO NOTHING"},
	}
}

func testSource() migration.Source {
	return migration.NewChangeSet(
		migration.Revision{ID: "v1", Statements: []string{"CREATE TABLE accounts (id TEXT PRIMARY KEY)"}},
	)
}

func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock
}

// expectServerRun scripts the create-database step.
func expectServerRun(mock sqlmock.Sqlmock, exists bool) {
	count := 0
	if exists {
		count = 1
	}
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_database`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
	if !exists {
		mock.ExpectExec(`CREATE DATABASE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectClose()
}

// expectTenantRun scripts the schema and seed steps.
func expectTenantRun(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS ledger`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO currencies`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()
}

// TestProvisionHappyPath verifies the six steps run in order and the
// tenant ends up registered ACTIVE at the baseline revision.
func TestProvisionHappyPath(t *testing.T) {
	store := registry.NewMemoryStore()
	serverDB, serverMock := mockDB(t)
	tenantDB, tenantMock := mockDB(t)
	expectServerRun(serverMock, false)
	expectTenantRun(tenantMock)

	applier := &recordingApplier{}
	p := New(store, &queueFactory{tenant: []*sql.DB{tenantDB}, server: []*sql.DB{serverDB}},
		applier, testSource(), locks.NewLocalManager(), testPlacement())

	rec, err := p.Provision(context.Background(), "acme", "v1")
	require.NoError(t, err)

	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, types.StateActive, rec.State)
	assert.Equal(t, "v1", rec.LastMigratedVersion)
	assert.Equal(t, "tenant_acme", rec.Locator.Database)
	assert.Equal(t, int32(1), atomic.LoadInt32(&applier.calls))

	stored, err := store.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, stored.State)

	assert.NoError(t, serverMock.ExpectationsWereMet())
	assert.NoError(t, tenantMock.ExpectationsWereMet())
}

// TestProvisionExistingTenantReturnsRecord verifies re-provisioning an
// already ACTIVE tenant returns the record without touching any database.
func TestProvisionExistingTenantReturnsRecord(t *testing.T) {
	store := registry.NewMemoryStore()
	factory := &queueFactory{}
	applier := &recordingApplier{}
	p := New(store, factory, applier, testSource(), locks.NewLocalManager(), testPlacement())

	created, err := store.Create(context.Background(), &types.TenantRecord{
		TenantID:  "acme",
		Locator:   testPlacement().Locate("acme"),
		State:     types.StateActive,
		CreatedAt: time.Now(),
		Limits:    types.DefaultResourceLimits(),
	})
	require.NoError(t, err)
	require.True(t, created)

	rec, err := p.Provision(context.Background(), "acme", "v1")
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&factory.serverOpens), "no database work for an existing tenant")
	assert.Equal(t, int32(0), atomic.LoadInt32(&applier.calls))
}

// TestProvisionFailureLeavesNoRecord verifies a failed step surfaces a
// ProvisioningError naming the step and the tenant stays unregistered.
func TestProvisionFailureLeavesNoRecord(t *testing.T) {
	store := registry.NewMemoryStore()
	serverDB, serverMock := mockDB(t)
	serverMock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_database`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	serverMock.ExpectExec(`CREATE DATABASE`).WillReturnError(errors.New("pq: permission denied to create database"))
	serverMock.ExpectClose()

	p := New(store, &queueFactory{server: []*sql.DB{serverDB}},
		&recordingApplier{}, testSource(), locks.NewLocalManager(), testPlacement())

	_, err := p.Provision(context.Background(), "acme", "v1")
	require.Error(t, err)

	var perr *types.ProvisioningError
	require.True(t, errors.As(err, &perr), "expected ProvisioningError, got %v", err)
	assert.Equal(t, StepCreateDatabase, perr.Step)

	_, err = store.Get(context.Background(), "acme")
	assert.True(t, errors.Is(err, types.ErrUnknownTenant), "failed provisioning must not register the tenant")
}

// TestProvisionRetryAfterFailure verifies a retry skips the database
// creation a previous run already completed.
func TestProvisionRetryAfterFailure(t *testing.T) {
	store := registry.NewMemoryStore()
	serverDB, serverMock := mockDB(t)
	tenantDB, tenantMock := mockDB(t)
	// The database survived the failed first run.
	expectServerRun(serverMock, true)
	expectTenantRun(tenantMock)

	p := New(store, &queueFactory{tenant: []*sql.DB{tenantDB}, server: []*sql.DB{serverDB}},
		&recordingApplier{}, testSource(), locks.NewLocalManager(), testPlacement())

	rec, err := p.Provision(context.Background(), "acme", "v1")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, rec.State)

	assert.NoError(t, serverMock.ExpectationsWereMet())
	assert.NoError(t, tenantMock.ExpectationsWereMet())
}

// TestProvisionLeaseHeld verifies a concurrent provisioning run on
// another replica blocks this one.
func TestProvisionLeaseHeld(t *testing.T) {
	leases := locks.NewLocalManager()
	_, err := leases.Acquire(context.Background(), "provision:acme", time.Minute)
	require.NoError(t, err)

	p := New(registry.NewMemoryStore(), &queueFactory{}, &recordingApplier{},
		testSource(), leases, testPlacement())

	_, err = p.Provision(context.Background(), "acme", "v1")
	assert.True(t, errors.Is(err, locks.ErrLeaseHeld), "expected ErrLeaseHeld, got %v", err)
}

// TestProvisionCanceledBetweenSteps verifies cancellation stops the run
// at a step boundary with a ProvisioningError.
func TestProvisionCanceledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := registry.NewMemoryStore()
	p := New(store, &queueFactory{}, &recordingApplier{},
		testSource(), locks.NewLocalManager(), testPlacement())

	_, err := p.Provision(ctx, "acme", "v1")
	require.Error(t, err)

	var perr *types.ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, context.Canceled))

	_, err = store.Get(context.Background(), "acme")
	assert.True(t, errors.Is(err, types.ErrUnknownTenant))
}

// TestProvisionLocatorCollision verifies a locator already assigned to a
// different tenant is rejected at allocation.
func TestProvisionLocatorCollision(t *testing.T) {
	store := registry.NewMemoryStore()
	placement := testPlacement()

	// Seed a tenant squatting on acme's deterministic locator.
	squatter := placement.Locate("acme")
	created, err := store.Create(context.Background(), &types.TenantRecord{
		TenantID:  "imposter",
		Locator:   squatter,
		State:     types.StateActive,
		CreatedAt: time.Now(),
		Limits:    types.DefaultResourceLimits(),
	})
	require.NoError(t, err)
	require.True(t, created)

	p := New(store, &queueFactory{}, &recordingApplier{},
		testSource(), locks.NewLocalManager(), placement)

	_, err = p.Provision(context.Background(), "acme", "v1")
	require.Error(t, err)

	var perr *types.ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepAllocateLocator, perr.Step)
}

// TestPlacementDeterministic verifies locators derive stably from the
// tenant ID.
func TestPlacementDeterministic(t *testing.T) {
	placement := testPlacement()

	first := placement.Locate("acme")
	second := placement.Locate("acme")
	assert.Equal(t, first, second, "same tenant must get the same locator")

	assert.Equal(t, "tenant_acme_corp_", placement.Locate("Acme Corp!").Database)
}
