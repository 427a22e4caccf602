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

// Package controlplane is the operator-facing HTTP API of the tenant
// database lifecycle manager: provisioning, lifecycle transitions,
// fleet migration, and backup/restore, all reported per tenant.
package controlplane
