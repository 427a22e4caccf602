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
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/storage/blob"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/registry"
)

var (
	backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_backups_total",
			Help: "Backup attempts by result",
		},
		[]string{"result"},
	)

	restoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_restores_total",
			Help: "Restore attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(backupsTotal)
	prometheus.MustRegister(restoresTotal)
}

// PoolEvictor drains a tenant's connection pool before its data is
// replaced. Satisfied by the connection router.
type PoolEvictor interface {
	Evict(ctx context.Context, tenantID string) error
}

// Coordinator orchestrates tenant backups and restores. A backup record
// only ever exists for verified durable bytes: the snapshot is
// checksummed, uploaded, re-read, and re-hashed before anything is
// recorded. Restores quarantine the tenant first and verify the artifact
// before touching live data.
type Coordinator struct {
	store   registry.Store
	blobs   blob.Store
	evictor PoolEvictor
	dumper  Dumper
	leases  locks.Manager
	logger  *logger.Logger

	leaseTTL time.Duration
}

// NewCoordinator creates a backup Coordinator.
func NewCoordinator(store registry.Store, blobs blob.Store, evictor PoolEvictor, dumper Dumper, leases locks.Manager) *Coordinator {
	return &Coordinator{
		store:    store,
		blobs:    blobs,
		evictor:  evictor,
		dumper:   dumper,
		leases:   leases,
		logger:   logger.New("backup"),
		leaseTTL: 30 * time.Minute,
	}
}

// Backup takes a verified snapshot of the tenant's database. The record
// is written only after the stored bytes have been re-read and re-hashed
// against the checksum; a corrupt upload is deleted and reported, never
// recorded.
func (c *Coordinator) Backup(ctx context.Context, tenantID string) (*types.BackupRecord, error) {
	rec, err := c.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if rec.State != types.StateActive && rec.State != types.StateSuspended {
		backupsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: cannot back up tenant %s in state %s", types.ErrStateConflict, tenantID, rec.State)
	}

	start := time.Now()
	backupID := uuid.New().String()
	key := fmt.Sprintf("backups/%s/%s.sql.gz", tenantID, backupID)

	// Dump through gzip into memory; the checksum covers the stored
	// (compressed) bytes so verification needs no decompression.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := c.dumper.Dump(ctx, rec.Locator, gz); err != nil {
		backupsTotal.WithLabelValues("dump_failed").Inc()
		return nil, fmt.Errorf("failed to dump tenant %s: %w", tenantID, err)
	}
	if err := gz.Close(); err != nil {
		backupsTotal.WithLabelValues("dump_failed").Inc()
		return nil, fmt.Errorf("failed to finalize snapshot of tenant %s: %w", tenantID, err)
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	size := int64(buf.Len())

	locator, err := c.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()))
	if err != nil {
		backupsTotal.WithLabelValues("upload_failed").Inc()
		return nil, fmt.Errorf("failed to upload snapshot of tenant %s: %w", tenantID, err)
	}

	if err := c.verifyStored(ctx, locator, checksum); err != nil {
		// Remove the bad artifact; the record was never written.
		_ = c.blobs.Delete(ctx, locator)
		backupsTotal.WithLabelValues("verify_failed").Inc()
		return nil, err
	}

	takenAt := time.Now().UTC()
	backupRec := &types.BackupRecord{
		ID:             backupID,
		TenantID:       tenantID,
		StorageLocator: locator,
		TakenAt:        takenAt,
		Size:           size,
		Checksum:       checksum,
		Revision:       rec.LastMigratedVersion,
	}
	if err := c.store.RecordBackup(ctx, backupRec); err != nil {
		backupsTotal.WithLabelValues("record_failed").Inc()
		return nil, fmt.Errorf("failed to record backup of tenant %s: %w", tenantID, err)
	}

	// Best effort: the record above is authoritative.
	if err := c.store.ConditionalUpdate(ctx, tenantID, rec.State, rec.State,
		registry.Fields{LastBackupAt: &takenAt}); err != nil {
		c.logger.Warn(tenantID, "", "Could not stamp last backup time", map[string]interface{}{
			"error": err.Error(),
		})
	}

	backupsTotal.WithLabelValues("ok").Inc()
	c.logger.InfoWithDuration(tenantID, backupID, "Backup completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"locator":  locator,
		"size":     size,
		"checksum": checksum,
	})
	return backupRec, nil
}

// verifyStored re-reads the uploaded blob and re-hashes it.
func (c *Coordinator) verifyStored(ctx context.Context, locator, checksum string) error {
	r, err := c.blobs.Get(ctx, locator)
	if err != nil {
		return fmt.Errorf("%w: could not re-read %s: %v", types.ErrBackupVerificationFailed, locator, err)
	}
	defer func() { _ = r.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("%w: could not re-read %s: %v", types.ErrBackupVerificationFailed, locator, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		return fmt.Errorf("%w: stored %s, expected %s", types.ErrBackupVerificationFailed, got, checksum)
	}
	return nil
}

// Restore replaces the tenant's database contents from a backup record.
// Three phases: quarantine (CAS to RESTORING, drain the pool), replace
// (verify the artifact checksum before touching live data, then load),
// reactivate (CAS back to ACTIVE). Any failure after quarantine leaves
// the tenant in RESTORE_FAILED; a later retry CASes RESTORE_FAILED back
// to RESTORING.
func (c *Coordinator) Restore(ctx context.Context, tenantID string, backupRec *types.BackupRecord) error {
	if backupRec.TenantID != tenantID {
		return &types.RestoreError{TenantID: tenantID, Phase: "quarantine",
			Cause: fmt.Errorf("backup %s belongs to tenant %s", backupRec.ID, backupRec.TenantID)}
	}

	lease, err := c.leases.Acquire(ctx, "restore:"+tenantID, c.leaseTTL)
	if err != nil {
		return &types.RestoreError{TenantID: tenantID, Phase: "quarantine", Cause: err}
	}
	defer func() { _ = lease.Release(context.Background()) }()

	rec, err := c.store.Get(ctx, tenantID)
	if err != nil {
		return &types.RestoreError{TenantID: tenantID, Phase: "quarantine", Cause: err}
	}

	// Phase 1: quarantine. ACTIVE and RESTORE_FAILED (retry) may enter
	// RESTORING; anything else is refused.
	if err := c.store.ConditionalUpdate(ctx, tenantID, rec.State, types.StateRestoring, registry.Fields{}); err != nil {
		restoresTotal.WithLabelValues("rejected").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "quarantine", Cause: err}
	}
	if err := c.evictor.Evict(ctx, tenantID); err != nil {
		c.failRestore(ctx, tenantID)
		restoresTotal.WithLabelValues("quarantine_failed").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "quarantine", Cause: err}
	}

	// Phase 2: verify then replace. The artifact is fully fetched and
	// hashed before a single byte of live data changes.
	data, err := c.fetchVerified(ctx, backupRec)
	if err != nil {
		c.failRestore(ctx, tenantID)
		restoresTotal.WithLabelValues("verify_failed").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "verify", Cause: err}
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		c.failRestore(ctx, tenantID)
		restoresTotal.WithLabelValues("replace_failed").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "replace", Cause: err}
	}
	if err := c.dumper.Restore(ctx, rec.Locator, gz); err != nil {
		c.failRestore(ctx, tenantID)
		restoresTotal.WithLabelValues("replace_failed").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "replace", Cause: err}
	}

	// Phase 3: reactivate and roll the recorded revision back to the
	// snapshot's.
	revision := backupRec.Revision
	if err := c.store.ConditionalUpdate(ctx, tenantID, types.StateRestoring, types.StateActive,
		registry.Fields{LastMigratedVersion: &revision}); err != nil {
		restoresTotal.WithLabelValues("reactivate_failed").Inc()
		return &types.RestoreError{TenantID: tenantID, Phase: "reactivate", Cause: err}
	}

	restoresTotal.WithLabelValues("ok").Inc()
	c.logger.Info(tenantID, backupRec.ID, "Restore completed", map[string]interface{}{
		"locator":  backupRec.StorageLocator,
		"revision": revision,
	})
	return nil
}

// fetchVerified downloads the artifact and checks it against the
// recorded checksum.
func (c *Coordinator) fetchVerified(ctx context.Context, backupRec *types.BackupRecord) ([]byte, error) {
	r, err := c.blobs.Get(ctx, backupRec.StorageLocator)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != backupRec.Checksum {
		return nil, fmt.Errorf("%w: artifact %s hashes to %s, recorded %s",
			types.ErrBackupVerificationFailed, backupRec.StorageLocator, got, backupRec.Checksum)
	}
	return data, nil
}

// failRestore parks the tenant in RESTORE_FAILED. An operator (or a
// retried Restore) takes it from there; the tenant never silently
// returns to traffic.
func (c *Coordinator) failRestore(ctx context.Context, tenantID string) {
	if err := c.store.ConditionalUpdate(ctx, tenantID, types.StateRestoring, types.StateRestoreFailed, registry.Fields{}); err != nil {
		c.logger.ErrorWithCause(tenantID, "", "Could not mark restore failed", err, nil)
	}
}

// Prune deletes blob artifacts beyond the keep newest backups. Records
// stay: a pruned backup is visible in history, just no longer
// restorable. Returns how many artifacts were deleted.
func (c *Coordinator) Prune(ctx context.Context, tenantID string, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1")
	}

	backups, err := c.store.ListBackups(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	pruned := 0
	for _, old := range backups[keep:] {
		if err := c.blobs.Delete(ctx, old.StorageLocator); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			return pruned, fmt.Errorf("failed to prune backup %s: %w", old.ID, err)
		}
		pruned++
	}

	c.logger.Info(tenantID, "", "Pruned backup artifacts", map[string]interface{}{
		"kept":   keep,
		"pruned": pruned,
	})
	return pruned, nil
}
