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
	"errors"
	"sync"
	"testing"
	"time"

	"ledgerline/platform/shared/types"
)

func testRecord(tenantID, database string) *types.TenantRecord {
	return &types.TenantRecord{
		TenantID: tenantID,
		Locator: types.DatabaseLocator{
			Engine:   types.EnginePostgres,
			Host:     "db-1",
			Port:     5432,
			Database: database,
			User:     "ledgerline",
		},
		State:     types.StateActive,
		CreatedAt: time.Now().UTC(),
		Limits:    types.DefaultResourceLimits(),
	}
}

// TestMemoryStoreGetUnknown verifies the unknown-tenant sentinel.
func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, types.ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

// TestMemoryStoreCreateIdempotent verifies a second create is a no-op.
func TestMemoryStoreCreateIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, testRecord("acme", "tenant_acme"))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	created, err = store.Create(ctx, testRecord("acme", "tenant_acme_2"))
	if err != nil {
		t.Fatalf("second create errored: %v", err)
	}
	if created {
		t.Error("second create for same tenant should report false")
	}
}

// TestMemoryStoreCreateRace verifies a concurrent create resolves to one record.
func TestMemoryStoreCreateRace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Create(ctx, testRecord("acme", "tenant_acme"))
			if err != nil {
				t.Errorf("create errored: %v", err)
				return
			}
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one create to win, got %d", wins)
	}
}

// TestMemoryStoreLocatorNeverReused verifies locator uniqueness across tenants.
func TestMemoryStoreLocatorNeverReused(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, testRecord("acme", "tenant_acme")); err != nil {
		t.Fatalf("create acme: %v", err)
	}

	_, err := store.Create(ctx, testRecord("globex", "tenant_acme"))
	if err == nil {
		t.Error("expected error when reusing a database locator for another tenant")
	}
}

// TestMemoryStoreConditionalUpdate verifies CAS semantics.
func TestMemoryStoreConditionalUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, testRecord("acme", "tenant_acme")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Valid transition.
	err := store.ConditionalUpdate(ctx, "acme", types.StateActive, types.StateSuspended, Fields{})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// Stale expected state.
	err = store.ConditionalUpdate(ctx, "acme", types.StateActive, types.StateRestoring, Fields{})
	if !errors.Is(err, types.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}

	// Illegal transition is rejected even with the right expected state.
	err = store.ConditionalUpdate(ctx, "acme", types.StateSuspended, types.StateRestoring, Fields{})
	if err == nil {
		t.Error("expected invalid transition SUSPENDED -> RESTORING to fail")
	}

	// Unknown tenant.
	err = store.ConditionalUpdate(ctx, "ghost", types.StateActive, types.StateSuspended, Fields{})
	if !errors.Is(err, types.ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

// TestMemoryStoreConditionalUpdateFields verifies field application.
func TestMemoryStoreConditionalUpdateFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, testRecord("acme", "tenant_acme")); err != nil {
		t.Fatalf("create: %v", err)
	}

	version := "v3"
	backupAt := time.Now().UTC()
	err := store.ConditionalUpdate(ctx, "acme", types.StateActive, types.StateActive, Fields{
		LastMigratedVersion: &version,
		LastBackupAt:        &backupAt,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := store.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LastMigratedVersion != "v3" {
		t.Errorf("LastMigratedVersion = %s, want v3", rec.LastMigratedVersion)
	}
	if rec.LastBackupAt == nil || !rec.LastBackupAt.Equal(backupAt) {
		t.Errorf("LastBackupAt = %v, want %v", rec.LastBackupAt, backupAt)
	}
}

// TestMemoryStoreListFilter verifies state and ID filtering plus ordering.
func TestMemoryStoreListFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"globex", "acme", "initech"} {
		if _, err := store.Create(ctx, testRecord(id, "tenant_"+id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.ConditionalUpdate(ctx, "initech", types.StateActive, types.StateSuspended, Fields{}); err != nil {
		t.Fatalf("suspend initech: %v", err)
	}

	active, err := store.List(ctx, Filter{States: []types.LifecycleState{types.StateActive}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 || active[0].TenantID != "acme" || active[1].TenantID != "globex" {
		t.Errorf("unexpected active set: %+v", active)
	}

	narrowed, err := store.List(ctx, Filter{
		States:    []types.LifecycleState{types.StateActive},
		TenantIDs: []string{"globex", "initech"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].TenantID != "globex" {
		t.Errorf("unexpected narrowed set: %+v", narrowed)
	}
}

// TestMemoryStoreBackups verifies backup records are immutable and ordered.
func TestMemoryStoreBackups(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, testRecord("acme", "tenant_acme")); err != nil {
		t.Fatalf("create: %v", err)
	}

	older := &types.BackupRecord{ID: "b1", TenantID: "acme", TakenAt: time.Now().Add(-time.Hour)}
	newer := &types.BackupRecord{ID: "b2", TenantID: "acme", TakenAt: time.Now()}
	if err := store.RecordBackup(ctx, older); err != nil {
		t.Fatalf("record older: %v", err)
	}
	if err := store.RecordBackup(ctx, newer); err != nil {
		t.Fatalf("record newer: %v", err)
	}

	backups, err := store.ListBackups(ctx, "acme")
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(backups) != 2 || backups[0].ID != "b2" {
		t.Errorf("expected newest first, got %+v", backups)
	}

	// Mutating a returned record must not affect the store.
	backups[0].Checksum = "tampered"
	again, _ := store.ListBackups(ctx, "acme")
	if again[0].Checksum == "tampered" {
		t.Error("ListBackups leaked internal record pointers")
	}
}
