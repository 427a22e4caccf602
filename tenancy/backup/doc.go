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

// Package backup orchestrates per-tenant snapshots and restores.
//
// A backup is a gzip-compressed logical export with a SHA-256 checksum
// over the stored bytes. The catalog record is written only after the
// uploaded artifact has been re-read and re-hashed, so a record always
// points at verified durable bytes. Restore quarantines the tenant
// (RESTORING, pool drained), verifies the artifact checksum before
// touching live data, replays the export, and reactivates. Failures park
// the tenant in RESTORE_FAILED for an operator retry.
package backup
