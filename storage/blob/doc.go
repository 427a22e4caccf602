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

// Package blob abstracts durable object storage for backup artifacts.
//
// Backends cover S3 (and MinIO-compatible services), Google Cloud
// Storage, Azure Blob Storage, a local filesystem with atomic renames,
// and an in-memory map for tests. Open selects the backend from
// configuration. Stores move bytes; content integrity is enforced by the
// backup coordinator, which checksums before upload and verifies by
// re-reading after.
package blob
