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

package router

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"ledgerline/platform/shared/types"
)

// errPoolEvicted signals an acquire raced with eviction; the caller
// retries against a fresh pool rather than surfacing the error.
var errPoolEvicted = errors.New("pool evicted during checkout")

// pool wraps one tenant's *sql.DB with reference counting so idle
// eviction never closes a pool with checkouts in flight. At most one
// live pool exists per tenant at any instant; the Router's per-tenant
// creation lock guarantees it.
type pool struct {
	tenantID string
	db       *sql.DB

	mu       sync.Mutex
	refs     int
	lastUsed time.Time
	draining bool
	closed   bool

	drained     chan struct{}
	drainedOnce sync.Once
}

func newPool(tenantID string, db *sql.DB) *pool {
	return &pool{
		tenantID: tenantID,
		db:       db,
		lastUsed: time.Now(),
		drained:  make(chan struct{}),
	}
}

// acquire checks out a connection, waiting at most checkoutTimeout for a
// free slot when the pool is saturated.
func (p *pool) acquire(ctx context.Context, checkoutTimeout time.Duration) (*sql.Conn, error) {
	p.mu.Lock()
	if p.draining || p.closed {
		p.mu.Unlock()
		return nil, errPoolEvicted
	}
	p.refs++
	p.lastUsed = time.Now()
	p.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, checkoutTimeout)
	defer cancel()

	conn, err := p.db.Conn(connCtx)
	if err != nil {
		p.release()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.ErrPoolExhausted
		}
		if errors.Is(err, sql.ErrConnDone) {
			return nil, errPoolEvicted
		}
		return nil, err
	}
	return conn, nil
}

// release drops one reference. It reports ErrConnectionClosed when the
// pool was hard-closed while the reference was outstanding.
func (p *pool) release() error {
	p.mu.Lock()
	p.refs--
	p.lastUsed = time.Now()
	if p.draining && p.refs <= 0 {
		p.drainedOnce.Do(func() { close(p.drained) })
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return types.ErrConnectionClosed
	}
	return nil
}

// idleSince reports whether the pool has had no checkout inside the window.
func (p *pool) idleSince(window time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs == 0 && time.Since(p.lastUsed) >= window
}

// drain marks the pool draining and returns a channel that closes once
// all references are released. New checkouts fail immediately.
func (p *pool) drain() <-chan struct{} {
	p.mu.Lock()
	p.draining = true
	if p.refs <= 0 {
		p.drainedOnce.Do(func() { close(p.drained) })
	}
	ch := p.drained
	p.mu.Unlock()
	return ch
}

// hardClose closes the underlying database, failing any still-outstanding
// checkouts with ErrConnectionClosed on release.
func (p *pool) hardClose() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.db.Close()
}

// Handle is a checked-out connection to one tenant's database. Callers
// must Release it when done; holding a Handle pins the pool against
// eviction.
type Handle struct {
	tenantID string
	pool     *pool
	conn     *sql.Conn

	once sync.Once
	err  error
}

// TenantID returns the tenant this handle is scoped to.
func (h *Handle) TenantID() string { return h.tenantID }

// Conn returns the underlying database connection.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// Release returns the connection to the pool. It reports
// ErrConnectionClosed if the pool was forcibly evicted while the handle
// was outstanding.
func (h *Handle) Release() error {
	h.once.Do(func() {
		closeErr := h.conn.Close()
		h.err = h.pool.release()
		if h.err == nil && closeErr != nil && !errors.Is(closeErr, sql.ErrConnDone) {
			h.err = closeErr
		}
	})
	return h.err
}
