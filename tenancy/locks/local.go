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
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalManager is an in-process Manager for single-instance deployments
// and tests. Leases expire by TTL the same way the Redis manager's do.
type LocalManager struct {
	mu   sync.Mutex
	held map[string]localEntry
}

type localEntry struct {
	token  string
	expiry time.Time
}

// NewLocalManager creates an in-process lease manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[string]localEntry)}
}

// Acquire takes the lease, or returns ErrLeaseHeld while an unexpired
// holder exists.
func (m *LocalManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.held[key]; ok && time.Now().Before(cur.expiry) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, key)
	}

	token := uuid.New().String()
	m.held[key] = localEntry{token: token, expiry: time.Now().Add(ttl)}
	return &localLease{manager: m, key: key, token: token}, nil
}

func (m *LocalManager) release(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.held[key]; ok && cur.token == token {
		delete(m.held, key)
	}
}

type localLease struct {
	manager *LocalManager
	key     string
	token   string
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(ctx context.Context) error {
	l.manager.release(l.key, l.token)
	return nil
}

// Verify LocalManager implements Manager
var _ Manager = (*LocalManager)(nil)
