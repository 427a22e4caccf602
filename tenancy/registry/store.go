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
	"time"

	"ledgerline/platform/shared/types"
)

// Filter narrows a List call. Zero value matches every tenant.
type Filter struct {
	// States limits results to tenants in any of the given states.
	States []types.LifecycleState
	// TenantIDs limits results to the given tenants.
	TenantIDs []string
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(rec *types.TenantRecord) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if rec.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.TenantIDs) > 0 {
		ok := false
		for _, id := range f.TenantIDs {
			if rec.TenantID == id {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Fields carries the optional columns a conditional update may set
// alongside the state transition. Nil pointers leave the column untouched.
type Fields struct {
	LastMigratedVersion *string
	LastBackupAt        *time.Time
}

// Store is the durable tenant catalog, the single source of truth for
// tenant records, backup records, and migration run reports.
//
// All lifecycle state transitions go through ConditionalUpdate so that
// no two components can race the same tenant's state: the update applies
// only if the record is still in the expected state, otherwise it fails
// with types.ErrStateConflict and changes nothing.
type Store interface {
	// Get returns the record for tenantID, or types.ErrUnknownTenant.
	Get(ctx context.Context, tenantID string) (*types.TenantRecord, error)

	// List returns records matching the filter, ordered by tenant ID.
	List(ctx context.Context, filter Filter) ([]*types.TenantRecord, error)

	// Create inserts a new record. It reports false with no error when a
	// record for the tenant already exists, so a provisioning race
	// resolves to exactly one record.
	Create(ctx context.Context, rec *types.TenantRecord) (bool, error)

	// ConditionalUpdate moves tenantID from expected to next and applies
	// fields, atomically. Returns types.ErrStateConflict if the record
	// is not in the expected state, types.ErrUnknownTenant if absent.
	ConditionalUpdate(ctx context.Context, tenantID string, expected, next types.LifecycleState, fields Fields) error

	// RecordBackup appends an immutable backup record.
	RecordBackup(ctx context.Context, rec *types.BackupRecord) error

	// ListBackups returns a tenant's backup records, newest first.
	ListBackups(ctx context.Context, tenantID string) ([]*types.BackupRecord, error)

	// SaveRun durably logs a fleet migration report.
	SaveRun(ctx context.Context, run *types.MigrationRun) error
}
