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
	"fmt"
	"sort"
	"sync"

	"ledgerline/platform/shared/types"
)

// MemoryStore is an in-memory Store used by tests and single-node
// development setups. Thread-safe for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*types.TenantRecord
	backups map[string][]*types.BackupRecord
	runs    []*types.MigrationRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*types.TenantRecord),
		backups: make(map[string][]*types.BackupRecord),
	}
}

// Get returns the record for tenantID, or types.ErrUnknownTenant.
func (m *MemoryStore) Get(ctx context.Context, tenantID string) (*types.TenantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownTenant, tenantID)
	}
	return rec.Clone(), nil
}

// List returns records matching the filter, ordered by tenant ID.
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*types.TenantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.TenantRecord
	for _, rec := range m.tenants {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// Create inserts a new record; reports false when the tenant already exists.
func (m *MemoryStore) Create(ctx context.Context, rec *types.TenantRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[rec.TenantID]; exists {
		return false, nil
	}
	// A locator is assigned exactly once and never reused across tenants.
	for _, other := range m.tenants {
		if other.Locator.Database == rec.Locator.Database && other.Locator.Host == rec.Locator.Host {
			return false, fmt.Errorf("database locator %s already assigned to tenant %s",
				rec.Locator.Database, other.TenantID)
		}
	}
	m.tenants[rec.TenantID] = rec.Clone()
	return true, nil
}

// ConditionalUpdate applies a compare-and-swap state transition.
func (m *MemoryStore) ConditionalUpdate(ctx context.Context, tenantID string, expected, next types.LifecycleState, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tenants[tenantID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownTenant, tenantID)
	}
	if rec.State != expected {
		return fmt.Errorf("%w: tenant %s is %s, expected %s", types.ErrStateConflict, tenantID, rec.State, expected)
	}
	if expected != next && !types.CanTransition(expected, next) {
		return fmt.Errorf("invalid transition %s -> %s for tenant %s", expected, next, tenantID)
	}

	rec.State = next
	if fields.LastMigratedVersion != nil {
		rec.LastMigratedVersion = *fields.LastMigratedVersion
	}
	if fields.LastBackupAt != nil {
		ts := *fields.LastBackupAt
		rec.LastBackupAt = &ts
	}
	return nil
}

// RecordBackup appends an immutable backup record.
func (m *MemoryStore) RecordBackup(ctx context.Context, rec *types.BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.backups[rec.TenantID] = append(m.backups[rec.TenantID], &cp)
	return nil
}

// ListBackups returns a tenant's backup records, newest first.
func (m *MemoryStore) ListBackups(ctx context.Context, tenantID string) ([]*types.BackupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.backups[tenantID]
	out := make([]*types.BackupRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

// SaveRun logs a fleet migration report.
func (m *MemoryStore) SaveRun(ctx context.Context, run *types.MigrationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *run
	cp.Outcomes = append([]types.TenantOutcome(nil), run.Outcomes...)
	m.runs = append(m.runs, &cp)
	return nil
}

// Runs returns all saved migration runs (test helper).
func (m *MemoryStore) Runs() []*types.MigrationRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.MigrationRun(nil), m.runs...)
}

// Verify MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
