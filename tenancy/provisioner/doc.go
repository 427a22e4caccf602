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

// Package provisioner creates tenant databases from nothing to serving.
//
// Provisioning runs six ordered, individually idempotent steps: allocate
// the locator, create the database, scaffold schemas, apply baseline
// migrations, seed reference data, and finally register the tenant
// ACTIVE. Registration is last on purpose: a tenant that is visible in
// the registry always has a fully prepared database behind it. A lease
// per tenant keeps two control plane replicas from interleaving the same
// provisioning run.
package provisioner
