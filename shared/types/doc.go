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

/*
Package types provides shared type definitions used across LedgerLine components.

# Overview

This package contains the tenant lifecycle domain model shared between the
Connection Router, Provisioner, Migration Orchestrator, Backup/Restore
Coordinator, and the control plane. It is the single source of truth for:

  - TenantRecord and the lifecycle state machine
  - DatabaseLocator (per-tenant physical database coordinates)
  - ResourceLimits (plan-derived pool and connection caps)
  - MigrationRun / TenantOutcome (fleet operation reports)
  - BackupRecord (immutable snapshot metadata)
  - The lifecycle error taxonomy

# Lifecycle States

Every tenant owns a physically isolated database. Its record moves through:

	PROVISIONING -> ACTIVE <-> SUSPENDED
	ACTIVE -> RESTORING -> ACTIVE | RESTORE_FAILED
	ACTIVE | SUSPENDED -> DEACTIVATED (terminal)

Use CanTransition to validate a transition before attempting the conditional
update against the registry. The Connection Router only admits tenants in
ACTIVE state.

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
