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
Package logger provides structured JSON logging with per-tenant context
for LedgerLine components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (router, provisioner, controlplane, etc.)
  - Instance ID and container name (for distributed tracing)
  - Tenant ID (for fleet-wide, per-tenant log filtering)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("router")

Log messages with tenant and request context:

	log.Info("acme", requestID, "pool created", map[string]interface{}{
	    "max_open_conns": 10,
	})

Lifecycle operations that are not tied to a single tenant pass an empty
tenant ID.
*/
package logger
