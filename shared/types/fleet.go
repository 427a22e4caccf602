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

package types

import "time"

// OutcomeStatus is the per-tenant result of a fleet-wide operation.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	// OutcomeSkipped marks tenants that were never started: excluded by
	// the enumeration, suspended before their unit ran, or left behind
	// by cancellation. A skipped tenant has provably had no DDL applied.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// TenantOutcome records one tenant's result inside a MigrationRun.
// Outcomes are mutually independent: one tenant's failure never rolls
// back or blocks another's.
type TenantOutcome struct {
	TenantID string        `json:"tenant_id"`
	Status   OutcomeStatus `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// MigrationRun is the durable report of one fleet migration invocation.
type MigrationRun struct {
	ID             string          `json:"id"`
	TargetRevision string          `json:"target_revision"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Outcomes       []TenantOutcome `json:"outcomes"`
}

// Failed returns the tenant IDs whose migration failed. These tenants
// remain on their prior revision and are surfaced for manual remediation.
func (r *MigrationRun) Failed() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			ids = append(ids, o.TenantID)
		}
	}
	return ids
}

// Succeeded returns the tenant IDs that reached the target revision.
func (r *MigrationRun) Succeeded() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSucceeded {
			ids = append(ids, o.TenantID)
		}
	}
	return ids
}

// BackupRecord is the immutable metadata of one verified snapshot.
// A record exists only after the snapshot bytes are durably stored and
// the stored checksum was re-read and verified. Newer backups supersede
// older ones; records are never overwritten.
type BackupRecord struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	StorageLocator string    `json:"storage_locator"`
	TakenAt        time.Time `json:"taken_at"`
	Size           int64     `json:"size"`
	// Checksum is the hex SHA-256 of the stored (compressed) bytes.
	Checksum string `json:"checksum"`
	// Revision is the schema revision the tenant was on when the
	// snapshot was taken; restore brings the database back to it.
	Revision string `json:"revision"`
}
