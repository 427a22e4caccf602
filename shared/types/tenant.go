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

// LifecycleState is the registry-owned state of a tenant database.
// Only the component that owns a transition may write it; all writes go
// through the registry's conditional update so two components can never
// race the same tenant's state.
type LifecycleState string

const (
	StateProvisioning  LifecycleState = "PROVISIONING"
	StateActive        LifecycleState = "ACTIVE"
	StateSuspended     LifecycleState = "SUSPENDED"
	StateRestoring     LifecycleState = "RESTORING"
	StateRestoreFailed LifecycleState = "RESTORE_FAILED"
	StateDeactivated   LifecycleState = "DEACTIVATED"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateProvisioning, StateActive, StateSuspended,
		StateRestoring, StateRestoreFailed, StateDeactivated:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s LifecycleState) Terminal() bool {
	return s == StateDeactivated
}

// transitions is the full lifecycle state machine:
//
//	PROVISIONING -> ACTIVE
//	ACTIVE <-> SUSPENDED
//	ACTIVE -> RESTORING -> ACTIVE | RESTORE_FAILED
//	RESTORE_FAILED -> RESTORING (operator retry)
//	ACTIVE | SUSPENDED | RESTORE_FAILED -> DEACTIVATED (terminal)
var transitions = map[LifecycleState][]LifecycleState{
	StateProvisioning:  {StateActive},
	StateActive:        {StateSuspended, StateRestoring, StateDeactivated},
	StateSuspended:     {StateActive, StateDeactivated},
	StateRestoring:     {StateActive, StateRestoreFailed},
	StateRestoreFailed: {StateRestoring, StateDeactivated},
	StateDeactivated:   nil,
}

// CanTransition reports whether the lifecycle state machine allows
// moving a tenant from one state to another.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResourceLimits caps a single tenant's draw on the shared database tier.
// Values are plan-derived inputs; the billing component maps subscription
// plans to limits, this package only carries them.
type ResourceLimits struct {
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	// CheckoutTimeout bounds how long a caller may wait for a pool slot
	// before the checkout fails with ErrPoolExhausted.
	CheckoutTimeout time.Duration `json:"checkout_timeout"`
}

// DefaultResourceLimits returns the limits applied when a tenant's plan
// does not specify its own.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		CheckoutTimeout: 3 * time.Second,
	}
}

// Normalize fills zero-valued fields with defaults.
func (r ResourceLimits) Normalize() ResourceLimits {
	def := DefaultResourceLimits()
	if r.MaxOpenConns <= 0 {
		r.MaxOpenConns = def.MaxOpenConns
	}
	if r.MaxIdleConns <= 0 {
		r.MaxIdleConns = def.MaxIdleConns
	}
	if r.ConnMaxLifetime <= 0 {
		r.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if r.CheckoutTimeout <= 0 {
		r.CheckoutTimeout = def.CheckoutTimeout
	}
	return r
}

// TenantRecord is the durable catalog entry for one tenant. The registry
// is its sole owner; records are soft-deactivated, never physically deleted.
type TenantRecord struct {
	TenantID string `json:"tenant_id"`
	// Locator is assigned exactly once at provisioning and never reused
	// across tenants, even after deactivation. This prevents an evicted
	// pool from aliasing another tenant's database.
	Locator             DatabaseLocator `json:"database_locator"`
	State               LifecycleState  `json:"lifecycle_state"`
	CreatedAt           time.Time       `json:"created_at"`
	LastMigratedVersion string          `json:"last_migrated_version"`
	LastBackupAt        *time.Time      `json:"last_backup_at,omitempty"`
	Limits              ResourceLimits  `json:"resource_limits"`
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the LastBackupAt pointer.
func (t *TenantRecord) Clone() *TenantRecord {
	cp := *t
	if t.LastBackupAt != nil {
		ts := *t.LastBackupAt
		cp.LastBackupAt = &ts
	}
	return &cp
}
