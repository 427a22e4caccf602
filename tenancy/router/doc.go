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

// Package router maps tenant identifiers to pooled connections against
// each tenant's physically isolated database.
//
// Pools are created lazily on the first request for a tenant and reused
// until evicted. Creation is serialized per tenant, not globally, so a
// slow first connection for one tenant never delays traffic for others.
// Checkouts are reference counted; eviction drains in-flight handles for
// a bounded grace period before closing the pool under them, and a
// background sweeper reclaims pools that sit idle past a window.
//
// Every resolve re-checks the tenant registry, so suspended or
// deactivated tenants are cut off at the routing layer without their
// database ever being dialed.
package router
