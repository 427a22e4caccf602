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
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/admin"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/migration"
	"ledgerline/platform/tenancy/registry"
)

// Step names surfaced in ProvisioningError, in execution order.
const (
	StepAllocateLocator    = "allocate_locator"
	StepCreateDatabase     = "create_database"
	StepCreateSchema       = "create_schema"
	StepBaselineMigrations = "baseline_migrations"
	StepSeedData           = "seed_data"
	StepRegister           = "register"
)

// Placement decides where a new tenant's database lives. The locator is
// derived deterministically from the tenant ID so a retried provisioning
// run lands on the same host and database name.
type Placement struct {
	Engine         types.Engine
	Hosts          []string
	Port           int
	User           string
	Password       string
	SSLMode        string
	DatabasePrefix string
	Limits         types.ResourceLimits
	// SeedStatements run against the fresh database after baseline
	// migrations. They must be idempotent (ON CONFLICT DO NOTHING /
	// INSERT IGNORE) since a retried run executes them again.
	SeedStatements []string
}

// Locate maps a tenant ID to its database locator. The host is picked by
// stable hash so the fleet spreads across servers without a placement
// table.
func (p Placement) Locate(tenantID string) types.DatabaseLocator {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	host := p.Hosts[int(h.Sum32())%len(p.Hosts)]

	prefix := p.DatabasePrefix
	if prefix == "" {
		prefix = "tenant_"
	}

	return types.DatabaseLocator{
		Engine:   p.Engine,
		Host:     host,
		Port:     p.Port,
		Database: prefix + sanitizeName(tenantID),
		User:     p.User,
		Password: p.Password,
		SSLMode:  p.SSLMode,
	}
}

// sanitizeName maps a tenant ID onto a safe database identifier.
func sanitizeName(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tenantID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// schemaApplier applies baseline revisions to a fresh tenant database.
type schemaApplier interface {
	Apply(ctx context.Context, tenantID string, loc types.DatabaseLocator, revisions []migration.Revision, target string) (string, error)
}

// Provisioner creates tenant databases end to end: a physically isolated
// database, baseline schema, seed data, and the ACTIVE registry record.
// Every step is idempotent, so a run that died halfway is retried with
// the same tenant ID and skips what already exists. The registry record
// is written last: no tenant becomes visible before its database is
// fully prepared.
type Provisioner struct {
	store     registry.Store
	conns     admin.ConnFactory
	applier   schemaApplier
	source    migration.Source
	leases    locks.Manager
	placement Placement
	leaseTTL  time.Duration
	logger    *logger.Logger
}

// New creates a Provisioner.
func New(store registry.Store, conns admin.ConnFactory, applier schemaApplier, source migration.Source, leases locks.Manager, placement Placement) *Provisioner {
	return &Provisioner{
		store:     store,
		conns:     conns,
		applier:   applier,
		source:    source,
		leases:    leases,
		placement: placement,
		leaseTTL:  5 * time.Minute,
		logger:    logger.New("provisioner"),
	}
}

// Provision creates the tenant's database and registers it ACTIVE at
// baselineRevision. Calling it again for an existing tenant returns the
// existing record unchanged. Cancellation is honored between steps, never
// mid-step.
func (p *Provisioner) Provision(ctx context.Context, tenantID, baselineRevision string) (*types.TenantRecord, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, types.NewProvisioningError(tenantID, StepAllocateLocator, fmt.Errorf("tenant ID must not be empty"))
	}

	// Fast path: already provisioned.
	if rec, err := p.store.Get(ctx, tenantID); err == nil {
		return rec, nil
	}

	lease, err := p.leases.Acquire(ctx, "provision:"+tenantID, p.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("tenant %s is being provisioned elsewhere: %w", tenantID, err)
	}
	defer func() { _ = lease.Release(context.Background()) }()

	// Another holder may have finished while we waited for the lease.
	if rec, err := p.store.Get(ctx, tenantID); err == nil {
		return rec, nil
	}

	start := time.Now()

	// Step 1: allocate the locator and reject collisions with other
	// tenants. A locator is assigned once and never reused.
	loc := p.placement.Locate(tenantID)
	if err := p.checkLocatorFree(ctx, tenantID, loc); err != nil {
		return nil, err
	}
	if err := p.stepBoundary(ctx, tenantID, StepCreateDatabase); err != nil {
		return nil, err
	}

	// Step 2: create the physical database if a previous run did not.
	if err := p.createDatabase(ctx, tenantID, loc); err != nil {
		return nil, err
	}
	if err := p.stepBoundary(ctx, tenantID, StepCreateSchema); err != nil {
		return nil, err
	}

	// Steps 3 and 5 share one admin connection to the tenant database.
	db, err := p.conns.Open(ctx, loc)
	if err != nil {
		return nil, types.NewProvisioningError(tenantID, StepCreateSchema, err)
	}
	defer func() { _ = db.Close() }()

	// Step 3: schema scaffolding and extensions, all IF NOT EXISTS.
	for _, stmt := range schemaStatements(loc.Engine) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, types.NewProvisioningError(tenantID, StepCreateSchema, err)
		}
	}
	if err := p.stepBoundary(ctx, tenantID, StepBaselineMigrations); err != nil {
		return nil, err
	}

	// Step 4: baseline migrations through the fleet applier, so a
	// provisioned tenant starts at a known revision.
	revisions, err := p.source.Revisions(ctx)
	if err != nil {
		return nil, types.NewProvisioningError(tenantID, StepBaselineMigrations, err)
	}
	applied, err := p.applier.Apply(ctx, tenantID, loc, revisions, baselineRevision)
	if err != nil {
		return nil, types.NewProvisioningError(tenantID, StepBaselineMigrations, err)
	}
	if err := p.stepBoundary(ctx, tenantID, StepSeedData); err != nil {
		return nil, err
	}

	// Step 5: idempotent reference data.
	for _, stmt := range p.placement.SeedStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, types.NewProvisioningError(tenantID, StepSeedData, err)
		}
	}
	if err := p.stepBoundary(ctx, tenantID, StepRegister); err != nil {
		return nil, err
	}

	// Step 6: register ACTIVE. The conditional insert resolves a
	// provisioning race to exactly one record; the loser adopts the
	// winner's.
	rec := &types.TenantRecord{
		TenantID:            tenantID,
		Locator:             loc,
		State:               types.StateActive,
		CreatedAt:           time.Now().UTC(),
		LastMigratedVersion: applied,
		Limits:              p.placement.Limits.Normalize(),
	}
	created, err := p.store.Create(ctx, rec)
	if err != nil {
		return nil, types.NewProvisioningError(tenantID, StepRegister, err)
	}
	if !created {
		winner, err := p.store.Get(ctx, tenantID)
		if err != nil {
			return nil, types.NewProvisioningError(tenantID, StepRegister, err)
		}
		return winner, nil
	}

	p.logger.InfoWithDuration(tenantID, "", "Provisioned tenant", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"engine":   string(loc.Engine),
		"database": loc.Database,
		"host":     loc.Host,
		"revision": applied,
	})
	return rec, nil
}

// stepBoundary honors cancellation between steps.
func (p *Provisioner) stepBoundary(ctx context.Context, tenantID, nextStep string) error {
	if err := ctx.Err(); err != nil {
		return types.NewProvisioningError(tenantID, nextStep, err)
	}
	return nil
}

func (p *Provisioner) checkLocatorFree(ctx context.Context, tenantID string, loc types.DatabaseLocator) error {
	existing, err := p.store.List(ctx, registry.Filter{})
	if err != nil {
		return types.NewProvisioningError(tenantID, StepAllocateLocator, err)
	}
	for _, other := range existing {
		if other.TenantID != tenantID && other.Locator.Host == loc.Host && other.Locator.Database == loc.Database {
			return types.NewProvisioningError(tenantID, StepAllocateLocator,
				fmt.Errorf("database %s on %s already assigned to tenant %s", loc.Database, loc.Host, other.TenantID))
		}
	}
	return nil
}

func (p *Provisioner) createDatabase(ctx context.Context, tenantID string, loc types.DatabaseLocator) error {
	server, err := p.conns.OpenServer(ctx, loc)
	if err != nil {
		return types.NewProvisioningError(tenantID, StepCreateDatabase, err)
	}
	defer func() { _ = server.Close() }()

	created, err := admin.CreateDatabaseIfAbsent(ctx, server, loc)
	if err != nil {
		return types.NewProvisioningError(tenantID, StepCreateDatabase, err)
	}
	if !created {
		p.logger.Info(tenantID, "", "Database already exists, continuing", map[string]interface{}{
			"database": loc.Database,
		})
	}
	return nil
}

// schemaStatements returns idempotent scaffolding per engine. Tables come
// from baseline migrations, not from here.
func schemaStatements(engine types.Engine) []string {
	if engine == types.EngineMySQL {
		return nil
	}
	return []string{
		`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,
		`CREATE SCHEMA IF NOT EXISTS ledger`,
	}
}
