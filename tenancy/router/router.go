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
	"fmt"
	"sync"
	"time"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/registry"
)

// PoolOpener builds a *sql.DB for a tenant locator with the given limits.
// Swappable so tests can route checkouts through sqlmock.
type PoolOpener func(loc types.DatabaseLocator, limits types.ResourceLimits) (*sql.DB, error)

// DefaultOpener opens pools through the registered database/sql drivers.
func DefaultOpener(loc types.DatabaseLocator, limits types.ResourceLimits) (*sql.DB, error) {
	db, err := sql.Open(loc.Engine.DriverName(), loc.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open pool for %s: %w", loc, err)
	}
	db.SetMaxOpenConns(limits.MaxOpenConns)
	db.SetMaxIdleConns(limits.MaxIdleConns)
	db.SetConnMaxLifetime(limits.ConnMaxLifetime)
	return db, nil
}

// Options tunes router behavior. Zero values fall back to defaults.
type Options struct {
	// IdleWindow is how long a pool may sit without checkouts before the
	// sweeper reclaims it.
	IdleWindow time.Duration
	// EvictGrace bounds how long Evict waits for in-flight handles before
	// hard-closing the pool.
	EvictGrace time.Duration
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration
	// Opener overrides pool construction.
	Opener PoolOpener
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.IdleWindow <= 0 {
		out.IdleWindow = 10 * time.Minute
	}
	if out.EvictGrace <= 0 {
		out.EvictGrace = 10 * time.Second
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = time.Minute
	}
	if out.Opener == nil {
		out.Opener = DefaultOpener
	}
	return out
}

// entry is the per-tenant slot in the router's map. Its mutex is the
// per-tenant creation lock: concurrent first requests for one tenant
// serialize on it without stalling requests for other tenants.
type entry struct {
	mu   sync.Mutex
	pool *pool
}

// Router resolves tenant identifiers to pooled connections against each
// tenant's own database. Pools are created lazily on first request,
// reused across requests, and reclaimed when idle or evicted.
type Router struct {
	store  registry.Store
	opts   Options
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
	swept    sync.WaitGroup
}

// New creates a Router over the given tenant registry and starts the
// idle sweeper. Call Close to release all pools.
func New(store registry.Store, opts *Options) *Router {
	r := &Router{
		store:   store,
		opts:    opts.withDefaults(),
		logger:  logger.New("router"),
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	r.swept.Add(1)
	go r.sweep()
	return r
}

// Resolve checks out a connection to the tenant's database. The tenant
// must exist and be ACTIVE; suspended and deactivated tenants are
// rejected without touching their database.
func (r *Router) Resolve(ctx context.Context, tenantID string) (*Handle, error) {
	rec, err := r.store.Get(ctx, tenantID)
	if err != nil {
		checkoutsTotal.WithLabelValues("unknown_tenant").Inc()
		return nil, err
	}
	if rec.State != types.StateActive {
		checkoutsTotal.WithLabelValues("not_active").Inc()
		return nil, fmt.Errorf("%w: tenant %s is %s", types.ErrTenantSuspended, tenantID, rec.State)
	}

	limits := rec.Limits.Normalize()
	start := time.Now()

	// An acquire can race pool eviction; one retry against a fresh pool
	// covers it since the drained pool is unlinked before close.
	for attempt := 0; attempt < 3; attempt++ {
		p, err := r.poolFor(tenantID, rec.Locator, limits)
		if err != nil {
			checkoutsTotal.WithLabelValues("open_failed").Inc()
			return nil, err
		}

		conn, err := p.acquire(ctx, limits.CheckoutTimeout)
		if errors.Is(err, errPoolEvicted) {
			continue
		}
		if err != nil {
			if errors.Is(err, types.ErrPoolExhausted) {
				checkoutsTotal.WithLabelValues("exhausted").Inc()
				r.logger.Warn(tenantID, "", "Connection checkout timed out", map[string]interface{}{
					"checkout_timeout": limits.CheckoutTimeout.String(),
					"max_open_conns":   limits.MaxOpenConns,
				})
			} else {
				checkoutsTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}

		checkoutsTotal.WithLabelValues("ok").Inc()
		checkoutDuration.Observe(time.Since(start).Seconds())
		return &Handle{tenantID: tenantID, pool: p, conn: conn}, nil
	}

	checkoutsTotal.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("checkout for tenant %s kept racing pool eviction", tenantID)
}

// poolFor returns the tenant's live pool, creating it under the
// per-tenant lock when absent. Requests for other tenants never block on
// this creation.
func (r *Router) poolFor(tenantID string, loc types.DatabaseLocator, limits types.ResourceLimits) (*pool, error) {
	r.mu.Lock()
	e, ok := r.entries[tenantID]
	if !ok {
		e = &entry{}
		r.entries[tenantID] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool != nil {
		return e.pool, nil
	}

	db, err := r.opts.Opener(loc, limits)
	if err != nil {
		return nil, fmt.Errorf("failed to build pool for tenant %s: %w", tenantID, err)
	}

	e.pool = newPool(tenantID, db)
	poolsLive.Inc()
	r.logger.Info(tenantID, "", "Opened tenant connection pool", map[string]interface{}{
		"engine":         string(loc.Engine),
		"database":       loc.Database,
		"max_open_conns": limits.MaxOpenConns,
	})
	return e.pool, nil
}

// Evict tears down the tenant's pool if one exists. In-flight handles get
// a bounded grace period to finish; after it expires the pool is closed
// under them and their Release reports ErrConnectionClosed. Evicting a
// tenant with no pool is a no-op.
func (r *Router) Evict(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	e := r.entries[tenantID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	p := e.pool
	e.pool = nil
	e.mu.Unlock()
	if p == nil {
		return nil
	}

	r.closePool(ctx, p, "evict")
	return nil
}

// closePool drains then closes a pool already unlinked from its entry.
func (r *Router) closePool(ctx context.Context, p *pool, reason string) {
	drained := p.drain()

	var interrupted bool
	select {
	case <-drained:
	case <-time.After(r.opts.EvictGrace):
		interrupted = true
	case <-ctx.Done():
		interrupted = true
	}

	p.hardClose()
	poolsLive.Dec()
	evictionsTotal.WithLabelValues(reason).Inc()

	if interrupted {
		r.logger.Warn(p.tenantID, "", "Pool closed with handles still outstanding", map[string]interface{}{
			"reason": reason,
			"grace":  r.opts.EvictGrace.String(),
		})
	} else {
		r.logger.Info(p.tenantID, "", "Closed tenant connection pool", map[string]interface{}{
			"reason": reason,
		})
	}
}

// sweep periodically reclaims pools with no checkouts inside IdleWindow.
func (r *Router) sweep() {
	defer r.swept.Done()
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Router) sweepOnce() {
	r.mu.Lock()
	snapshot := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e
	}
	r.mu.Unlock()

	for _, e := range snapshot {
		e.mu.Lock()
		p := e.pool
		if p == nil || !p.idleSince(r.opts.IdleWindow) {
			e.mu.Unlock()
			continue
		}
		e.pool = nil
		e.mu.Unlock()

		// Idle pools have zero refs so the drain completes immediately.
		r.closePool(context.Background(), p, "idle")
	}
}

// PoolCount reports the number of live pools.
func (r *Router) PoolCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		e.mu.Lock()
		if e.pool != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Close stops the sweeper and evicts every pool.
func (r *Router) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.swept.Wait()

	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.EvictGrace)
	defer cancel()
	for _, id := range ids {
		_ = r.Evict(ctx, id)
	}
	return nil
}
