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

// Package migration applies schema changes across the tenant fleet.
//
// A Source yields ordered revisions; the Applier advances one tenant
// database through them, tracking progress in a schema_migrations table
// inside that database. The Orchestrator fans the applier out over every
// ACTIVE tenant with a bounded worker pool. Outcomes are isolated per
// tenant: a failed tenant is recorded and left at its prior revision
// while the rest of the fleet advances. There is no fleet-wide rollback.
package migration
