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

package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerline/platform/shared/types"
	"ledgerline/platform/storage/blob"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/registry"
)

// fakeDumper serves canned dump bytes and records what Restore received.
type fakeDumper struct {
	mu       sync.Mutex
	data     []byte
	dumpErr  error
	restored [][]byte
}

func (d *fakeDumper) Dump(ctx context.Context, loc types.DatabaseLocator, w io.Writer) error {
	if d.dumpErr != nil {
		return d.dumpErr
	}
	_, err := w.Write(d.data)
	return err
}

func (d *fakeDumper) Restore(ctx context.Context, loc types.DatabaseLocator, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.restored = append(d.restored, content)
	d.mu.Unlock()
	return nil
}

func (d *fakeDumper) restoreCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.restored)
}

// fakeEvictor records eviction calls.
type fakeEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (e *fakeEvictor) Evict(ctx context.Context, tenantID string) error {
	e.mu.Lock()
	e.evicted = append(e.evicted, tenantID)
	e.mu.Unlock()
	return nil
}

type fixture struct {
	store   *registry.MemoryStore
	blobs   *blob.MemoryStore
	evictor *fakeEvictor
	dumper  *fakeDumper
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   registry.NewMemoryStore(),
		blobs:   blob.NewMemoryStore(),
		evictor: &fakeEvictor{},
		dumper:  &fakeDumper{data: []byte("COPY accounts FROM stdin;\nacme-books\n\\.")},
	}
	f.coord = NewCoordinator(f.store, f.blobs, f.evictor, f.dumper, locks.NewLocalManager())

	created, err := f.store.Create(context.Background(), &types.TenantRecord{
		TenantID: "acme",
		Locator: types.DatabaseLocator{
			Engine: types.EnginePostgres, Host: "db-1", Port: 5432, Database: "tenant_acme", User: "ledgerline",
		},
		State:               types.StateActive,
		CreatedAt:           time.Now(),
		LastMigratedVersion: "v3",
		Limits:              types.DefaultResourceLimits(),
	})
	require.NoError(t, err)
	require.True(t, created)
	return f
}

func mustState(t *testing.T, store registry.Store, tenantID string) types.LifecycleState {
	t.Helper()
	rec, err := store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	return rec.State
}

// TestBackupHappyPath verifies the snapshot is stored, verified, and
// recorded with the tenant's current revision.
func TestBackupHappyPath(t *testing.T) {
	f := newFixture(t)

	rec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "v3", rec.Revision)
	assert.NotEmpty(t, rec.Checksum)
	assert.Greater(t, rec.Size, int64(0))

	// The artifact must exist and the catalog must know about it.
	r, err := f.blobs.Get(context.Background(), rec.StorageLocator)
	require.NoError(t, err)
	_ = r.Close()

	backups, err := f.store.ListBackups(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, rec.ID, backups[0].ID)

	tenant, err := f.store.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, tenant.LastBackupAt)
}

// TestBackupUnknownTenant verifies backups of unknown tenants fail fast.
func TestBackupUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Backup(context.Background(), "ghost")
	assert.True(t, errors.Is(err, types.ErrUnknownTenant))
}

// corruptingStore flips bytes on upload to simulate a bad storage path.
type corruptingStore struct {
	blob.Store
}

func (s *corruptingStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(data) > 0 {
		data[0] ^= 0xFF
	}
	return s.Store.Put(ctx, key, bytes.NewReader(data))
}

// TestBackupVerificationFailure verifies a corrupt upload is never
// recorded and the artifact is cleaned up.
func TestBackupVerificationFailure(t *testing.T) {
	f := newFixture(t)
	f.coord.blobs = &corruptingStore{Store: f.blobs}

	_, err := f.coord.Backup(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBackupVerificationFailed), "expected verification failure, got %v", err)

	backups, err := f.store.ListBackups(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, backups, "no record may exist without verified bytes")

	keys, err := f.blobs.List(context.Background(), "backups/")
	require.NoError(t, err)
	assert.Empty(t, keys, "the corrupt artifact must be deleted")
}

// TestRestoreHappyPath verifies the three restore phases: quarantine with
// pool eviction, verified replacement, reactivation at the snapshot's
// revision.
func TestRestoreHappyPath(t *testing.T) {
	f := newFixture(t)

	backupRec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	// Fleet moved on since the snapshot.
	v5 := "v5"
	require.NoError(t, f.store.ConditionalUpdate(context.Background(), "acme",
		types.StateActive, types.StateActive, registry.Fields{LastMigratedVersion: &v5}))

	require.NoError(t, f.coord.Restore(context.Background(), "acme", backupRec))

	assert.Equal(t, []string{"acme"}, f.evictor.evicted, "pool must be drained before replacement")
	require.Equal(t, 1, f.dumper.restoreCount())
	assert.Equal(t, f.dumper.data, f.dumper.restored[0], "restored stream must decompress to the original dump")

	tenant, err := f.store.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, tenant.State)
	assert.Equal(t, "v3", tenant.LastMigratedVersion, "revision rolls back to the snapshot's")
}

// TestRestoreCorruptedArtifact verifies a checksum mismatch stops the
// restore before live data is touched and parks the tenant in
// RESTORE_FAILED.
func TestRestoreCorruptedArtifact(t *testing.T) {
	f := newFixture(t)

	backupRec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	// Rot the stored bytes after the record was written.
	key := "backups/acme/" + backupRec.ID + ".sql.gz"
	f.blobs.Corrupt(key, []byte("rotten"))

	err = f.coord.Restore(context.Background(), "acme", backupRec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBackupVerificationFailed), "expected verification failure, got %v", err)

	var rerr *types.RestoreError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "verify", rerr.Phase)

	assert.Equal(t, 0, f.dumper.restoreCount(), "live data must not be touched")
	assert.Equal(t, types.StateRestoreFailed, mustState(t, f.store, "acme"))
}

// TestRestoreRetryAfterFailure verifies RESTORE_FAILED tenants can be
// restored again from a good artifact.
func TestRestoreRetryAfterFailure(t *testing.T) {
	f := newFixture(t)

	bad, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)
	good, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	f.blobs.Corrupt("backups/acme/"+bad.ID+".sql.gz", []byte("rotten"))

	require.Error(t, f.coord.Restore(context.Background(), "acme", bad))
	require.Equal(t, types.StateRestoreFailed, mustState(t, f.store, "acme"))

	require.NoError(t, f.coord.Restore(context.Background(), "acme", good))
	assert.Equal(t, types.StateActive, mustState(t, f.store, "acme"))
}

// TestRestoreRejectsSuspendedTenant verifies only ACTIVE and
// RESTORE_FAILED tenants may enter a restore.
func TestRestoreRejectsSuspendedTenant(t *testing.T) {
	f := newFixture(t)

	backupRec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	require.NoError(t, f.store.ConditionalUpdate(context.Background(), "acme",
		types.StateActive, types.StateSuspended, registry.Fields{}))

	err = f.coord.Restore(context.Background(), "acme", backupRec)
	require.Error(t, err)
	assert.Equal(t, types.StateSuspended, mustState(t, f.store, "acme"))
	assert.Equal(t, 0, f.dumper.restoreCount())
}

// TestRestoreWrongTenantBackup verifies a backup record cannot be
// replayed onto a different tenant.
func TestRestoreWrongTenantBackup(t *testing.T) {
	f := newFixture(t)

	backupRec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	err = f.coord.Restore(context.Background(), "acme", &types.BackupRecord{
		ID: backupRec.ID, TenantID: "globex",
		StorageLocator: backupRec.StorageLocator, Checksum: backupRec.Checksum,
	})
	require.Error(t, err)
	assert.Equal(t, types.StateActive, mustState(t, f.store, "acme"))
}

// TestRestoreLeaseHeld verifies concurrent restores of one tenant are
// mutually exclusive.
func TestRestoreLeaseHeld(t *testing.T) {
	f := newFixture(t)
	leases := locks.NewLocalManager()
	f.coord.leases = leases

	backupRec, err := f.coord.Backup(context.Background(), "acme")
	require.NoError(t, err)

	_, err = leases.Acquire(context.Background(), "restore:acme", time.Minute)
	require.NoError(t, err)

	err = f.coord.Restore(context.Background(), "acme", backupRec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, locks.ErrLeaseHeld))
}

// TestPrune verifies old artifacts are deleted beyond the keep count
// while their records remain.
func TestPrune(t *testing.T) {
	f := newFixture(t)

	var recs []*types.BackupRecord
	for i := 0; i < 3; i++ {
		rec, err := f.coord.Backup(context.Background(), "acme")
		require.NoError(t, err)
		recs = append(recs, rec)
		time.Sleep(2 * time.Millisecond) // distinct TakenAt ordering
	}

	pruned, err := f.coord.Prune(context.Background(), "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	// Newest survives, older artifacts are gone, records remain.
	_, err = f.blobs.Get(context.Background(), recs[2].StorageLocator)
	assert.NoError(t, err)
	_, err = f.blobs.Get(context.Background(), recs[0].StorageLocator)
	assert.True(t, errors.Is(err, blob.ErrNotFound))

	backups, err := f.store.ListBackups(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, backups, 3, "records are never deleted by pruning")

	pruned, err = f.coord.Prune(context.Background(), "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned, "pruning is idempotent")
}
