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
Package registry implements the durable tenant catalog (the Registry Store).

# Overview

The registry is the single source of truth for tenant records, backup
records, and fleet migration reports. Every other lifecycle component
reads it; lifecycle state is only ever written through ConditionalUpdate,
a compare-and-swap that fails with types.ErrStateConflict instead of
losing an update when two components race.

Two implementations are provided:

  - MemoryStore: in-memory, for tests and single-node development
  - PostgresStore: the platform database, distinct from all tenant databases

Tenant records are never physically deleted. Offboarding moves a record to
DEACTIVATED, a terminal state, and its database locator is never reassigned
to another tenant.
*/
package registry
