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

package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/registry"
)

var tenantMigrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledgerline_tenant_migrations_total",
		Help: "Per-tenant migration outcomes across fleet runs",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(tenantMigrationsTotal)
}

// tenantApplier is the per-tenant apply step, abstracted so fleet logic
// is testable without a live database.
type tenantApplier interface {
	Apply(ctx context.Context, tenantID string, loc types.DatabaseLocator, revisions []Revision, target string) (string, error)
}

// Options tunes fleet fan-out. Zero values fall back to defaults.
type Options struct {
	// Workers bounds how many tenants migrate concurrently.
	Workers int
	// MaxAttempts bounds retries per tenant for transient errors.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = 500 * time.Millisecond
	}
	return out
}

// Orchestrator fans a schema migration out across the tenant fleet.
// Every tenant is an isolated unit of work: one tenant's failure never
// rolls back or blocks another's progress.
type Orchestrator struct {
	store   registry.Store
	source  Source
	applier tenantApplier
	opts    Options
	logger  *logger.Logger
}

// NewOrchestrator creates an Orchestrator applying revisions from source
// through the given applier.
func NewOrchestrator(store registry.Store, source Source, applier *Applier, opts *Options) *Orchestrator {
	return &Orchestrator{
		store:   store,
		source:  source,
		applier: applier,
		opts:    opts.withDefaults(),
		logger:  logger.New("migration"),
	}
}

// MigrateFleet migrates every ACTIVE tenant matching the filter to
// targetRevision (empty string means the newest revision). The run report
// is durably saved before returning. When at least one tenant failed, the
// report is returned together with a MigrationPartialFailure error;
// successful tenants keep their advanced revision regardless.
func (o *Orchestrator) MigrateFleet(ctx context.Context, targetRevision string, filter registry.Filter) (*types.MigrationRun, error) {
	revisions, err := o.source.Revisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load revisions: %w", err)
	}
	if len(revisions) == 0 {
		return nil, fmt.Errorf("migration source has no revisions")
	}
	if targetRevision == "" {
		targetRevision = revisions[len(revisions)-1].ID
	}
	if indexOfRevision(revisions, targetRevision) < 0 {
		return nil, fmt.Errorf("unknown target revision %q", targetRevision)
	}

	// Only ACTIVE tenants participate; suspended tenants catch up on resume.
	filter.States = []types.LifecycleState{types.StateActive}
	tenants, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate tenants: %w", err)
	}

	run := &types.MigrationRun{
		ID:             uuid.New().String(),
		TargetRevision: targetRevision,
		StartedAt:      time.Now().UTC(),
	}
	o.logger.Info("", run.ID, "Starting fleet migration", map[string]interface{}{
		"target_revision": targetRevision,
		"tenants":         len(tenants),
		"workers":         o.opts.Workers,
	})

	jobs := make(chan *types.TenantRecord)
	outcomes := make(chan types.TenantOutcome, len(tenants))

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				outcomes <- o.migrateTenant(ctx, run.ID, rec, revisions, targetRevision)
			}
		}()
	}

	for _, rec := range tenants {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	var failed []string
	for outcome := range outcomes {
		run.Outcomes = append(run.Outcomes, outcome)
		tenantMigrationsTotal.WithLabelValues(string(outcome.Status)).Inc()
		if outcome.Status == types.OutcomeFailed {
			failed = append(failed, outcome.TenantID)
		}
	}
	run.FinishedAt = time.Now().UTC()

	if err := o.store.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to save migration run %s: %w", run.ID, err)
	}

	o.logger.Info("", run.ID, "Fleet migration finished", map[string]interface{}{
		"target_revision": targetRevision,
		"succeeded":       len(run.Outcomes) - len(failed),
		"failed":          len(failed),
	})

	if len(failed) > 0 {
		return run, &types.MigrationPartialFailure{
			RunID:          run.ID,
			TargetRevision: targetRevision,
			Failed:         failed,
		}
	}
	return run, nil
}

// migrateTenant is one unit of work. Cancellation is honored here, at the
// unit boundary: a canceled run skips tenants not yet started while the
// in-flight statement finishes or rolls back on its own.
func (o *Orchestrator) migrateTenant(ctx context.Context, runID string, rec *types.TenantRecord, revisions []Revision, target string) types.TenantOutcome {
	outcome := types.TenantOutcome{TenantID: rec.TenantID}

	if ctx.Err() != nil {
		outcome.Status = types.OutcomeSkipped
		outcome.Error = "run canceled before tenant started"
		return outcome
	}

	// Re-check lifecycle under the unit: the tenant may have been
	// suspended between enumeration and execution.
	fresh, err := o.store.Get(ctx, rec.TenantID)
	if err != nil {
		outcome.Status = types.OutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}
	if fresh.State != types.StateActive {
		outcome.Status = types.OutcomeFailed
		outcome.Error = fmt.Sprintf("%v: tenant %s is %s", types.ErrTenantSuspended, rec.TenantID, fresh.State)
		return outcome
	}

	var applyErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		_, applyErr = o.applier.Apply(ctx, rec.TenantID, fresh.Locator, revisions, target)
		if applyErr == nil {
			break
		}
		if !types.Transient(applyErr) {
			break
		}
		if attempt == o.opts.MaxAttempts {
			break
		}

		delay := o.opts.BaseBackoff << (attempt - 1)
		o.logger.Warn(rec.TenantID, runID, "Transient migration failure, backing off", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   applyErr.Error(),
		})
		select {
		case <-ctx.Done():
			outcome.Status = types.OutcomeFailed
			outcome.Error = fmt.Sprintf("canceled during retry backoff: %v", applyErr)
			return outcome
		case <-time.After(delay):
		}
	}

	if applyErr != nil {
		outcome.Status = types.OutcomeFailed
		outcome.Error = applyErr.Error()
		o.logger.ErrorWithCause(rec.TenantID, runID, "Tenant migration failed", applyErr, map[string]interface{}{
			"attempts": outcome.Attempts,
		})
		return outcome
	}

	// Advance the recorded revision only while the tenant is still ACTIVE.
	err = o.store.ConditionalUpdate(ctx, rec.TenantID, types.StateActive, types.StateActive,
		registry.Fields{LastMigratedVersion: &target})
	if err != nil {
		outcome.Status = types.OutcomeFailed
		outcome.Error = fmt.Sprintf("schema advanced but registry update failed: %v", err)
		return outcome
	}

	outcome.Status = types.OutcomeSucceeded
	return outcome
}
