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

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors of the lifecycle taxonomy. Callers match them with
// errors.Is; structured errors below wrap these where applicable.
var (
	// ErrUnknownTenant is returned when the registry has no record for
	// the requested tenant.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrTenantSuspended is returned when a tenant's lifecycle state
	// forbids access (anything other than ACTIVE on the request path).
	ErrTenantSuspended = errors.New("tenant access suspended")

	// ErrPoolExhausted is returned when a pool is saturated beyond its
	// configured limits and the bounded checkout wait elapsed.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrConnectionClosed is returned to callers still holding a handle
	// when their tenant's pool was forcibly evicted.
	ErrConnectionClosed = errors.New("connection closed by eviction")

	// ErrStateConflict is returned by the registry when a conditional
	// update found the tenant in a different state than expected.
	ErrStateConflict = errors.New("lifecycle state conflict")

	// ErrBackupVerificationFailed is returned when stored snapshot bytes
	// do not hash to the recorded checksum.
	ErrBackupVerificationFailed = errors.New("backup verification failed")
)

// ProvisioningError reports which provisioning step failed. The tenant is
// not registered, so a retry of Provision is always safe: steps already
// satisfied are detected and skipped.
type ProvisioningError struct {
	TenantID string
	Step     string
	Cause    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning tenant %s failed at step %s: %v", e.TenantID, e.Step, e.Cause)
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// NewProvisioningError creates a ProvisioningError for the given step.
func NewProvisioningError(tenantID, step string, cause error) *ProvisioningError {
	return &ProvisioningError{TenantID: tenantID, Step: step, Cause: cause}
}

// MigrationPartialFailure reports a fleet migration where at least one
// tenant failed. The run itself is not aborted; failed tenants keep their
// prior revision and are listed here for remediation.
type MigrationPartialFailure struct {
	RunID          string
	TargetRevision string
	Failed         []string
}

func (e *MigrationPartialFailure) Error() string {
	return fmt.Sprintf("migration run %s to %s failed for %d tenant(s): %s",
		e.RunID, e.TargetRevision, len(e.Failed), strings.Join(e.Failed, ", "))
}

// RestoreError reports which restore phase failed. Whenever a restore
// fails after quarantine, the tenant is left in RESTORE_FAILED and is
// never silently returned to traffic.
type RestoreError struct {
	TenantID string
	Phase    string
	Cause    error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore of tenant %s failed in phase %s: %v", e.TenantID, e.Phase, e.Cause)
}

func (e *RestoreError) Unwrap() error { return e.Cause }

// transientMarkers are substrings of driver and network errors that are
// safe to retry with backoff. Anything else (syntax errors, constraint
// violations, checksum mismatches) is structural and surfaced immediately.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"too many connections",
	"the database system is starting up",
	"driver: bad connection",
	"unexpected eof",
}

// Transient reports whether err looks like a transient infrastructure
// failure worth retrying. Context cancellation is never transient: the
// caller asked to stop.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
