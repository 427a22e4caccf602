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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisManager(client, ""), mr
}

// TestRedisAcquireExclusive verifies a held lease blocks a second acquirer.
func TestRedisAcquireExclusive(t *testing.T) {
	m, _ := newRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "provision:acme", time.Minute)
	assert.True(t, errors.Is(err, ErrLeaseHeld), "expected ErrLeaseHeld, got %v", err)

	// A different key is independent.
	other, err := m.Acquire(ctx, "provision:globex", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))
	require.NoError(t, lease.Release(ctx))
}

// TestRedisReleaseReacquire verifies a released lease is immediately
// available again.
func TestRedisReleaseReacquire(t *testing.T) {
	m, _ := newRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "restore:acme", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))

	lease, err = m.Acquire(ctx, "restore:acme", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

// TestRedisTTLExpiry verifies a crashed holder's lease frees itself once
// the TTL lapses.
func TestRedisTTLExpiry(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "provision:acme", 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	lease, err := m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err, "expired lease should be acquirable")
	require.NoError(t, lease.Release(ctx))
}

// TestRedisStaleReleaseIsNoop verifies a holder that lost its lease to
// TTL expiry cannot release the successor's lease.
func TestRedisStaleReleaseIsNoop(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "provision:acme", 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	fresh, err := m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))

	// The fresh lease must still be held.
	_, err = m.Acquire(ctx, "provision:acme", time.Minute)
	assert.True(t, errors.Is(err, ErrLeaseHeld), "stale release must not free the successor's lease")
	require.NoError(t, fresh.Release(ctx))
}

// TestLocalManager verifies the in-process manager has the same contract.
func TestLocalManager(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "provision:acme", time.Minute)
	assert.True(t, errors.Is(err, ErrLeaseHeld))

	require.NoError(t, lease.Release(ctx))

	lease, err = m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

// TestLocalManagerExpiry verifies local leases free themselves by TTL.
func TestLocalManagerExpiry(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "provision:acme", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	lease, err := m.Acquire(ctx, "provision:acme", time.Minute)
	require.NoError(t, err, "expired local lease should be acquirable")
	require.NoError(t, lease.Release(ctx))
}
