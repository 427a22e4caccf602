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

// Package main is the entry point for the LedgerLine control plane.
//
// The control plane manages the tenant database fleet:
// - Provisions one physically isolated database per tenant
// - Routes application connections through per-tenant pools
// - Rolls schema migrations across the fleet with per-tenant outcomes
// - Orchestrates verified backups and restores
//
// Usage:
//
//	./controlplane
//
// Environment Variables:
//
//	CONTROLPLANE_LISTEN_ADDR - HTTP listen address (default: :8090)
//	CONTROLPLANE_CONFIG - path to an optional YAML config file
//	PLATFORM_DATABASE_URL - registry PostgreSQL connection string
//	REDIS_ADDR - Redis address for distributed leases
//	JWT_SECRET_REF - secret reference for the operator token key
package main

import (
	"ledgerline/platform/controlplane"
)

func main() {
	controlplane.Run()
}
