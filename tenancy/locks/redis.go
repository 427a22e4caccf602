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
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ledgerline/platform/shared/logger"
)

// releaseScript deletes the lease only when the caller still owns it, so
// a holder that outlived its TTL cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager coordinates leases across control plane instances through
// Redis SET NX with a TTL.
type RedisManager struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
}

// NewRedisManager creates a lease manager on an existing Redis client.
func NewRedisManager(client *redis.Client, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "ledgerline:lease:"
	}
	return &RedisManager{
		client: client,
		prefix: prefix,
		logger: logger.New("locks"),
	}
}

// Acquire takes the lease via SET NX, or returns ErrLeaseHeld.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.New().String()
	full := m.prefix + key

	ok, err := m.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, key)
	}

	m.logger.Debug("", "", "Acquired lease", map[string]interface{}{
		"key": key,
		"ttl": ttl.String(),
	})
	return &redisLease{manager: m, key: key, full: full, token: token}, nil
}

type redisLease struct {
	manager *RedisManager
	key     string
	full    string
	token   string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.manager.client, []string{l.full}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Verify RedisManager implements Manager
var _ Manager = (*RedisManager)(nil)
