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

package locks

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease already held")

// Lease is an acquired exclusive lease. Release returns it; releasing a
// lease that expired or was taken over is a no-op.
type Lease interface {
	// Key returns the lease key.
	Key() string
	// Release gives the lease up early.
	Release(ctx context.Context) error
}

// Manager hands out exclusive, TTL-bounded leases keyed by string.
// Provisioning and restore take a lease per tenant so two control plane
// instances never run the same mutation concurrently; the TTL bounds the
// damage of a crashed holder.
type Manager interface {
	// Acquire takes the lease, or returns ErrLeaseHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
