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

// Package config loads control plane configuration and resolves secret
// references. Values merge defaults, an optional YAML file, and
// environment variables; secrets are referenced indirectly (aws-sm://,
// env://) so credential material stays out of config files.
package config
