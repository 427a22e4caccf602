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
	"database/sql"
	"fmt"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/admin"
)

// revisionProgress mirrors one schema_migrations row inside a tenant
// database.
type revisionProgress struct {
	statementsDone int
	completed      bool
}

// Applier advances a single tenant database through schema revisions,
// tracking progress in a schema_migrations table inside the tenant
// database itself. Engines with transactional DDL apply each revision
// atomically; engines without it apply statement-at-a-time with recorded
// progress so an interrupted revision resumes where it stopped.
type Applier struct {
	conns  admin.ConnFactory
	logger *logger.Logger
}

// NewApplier creates an Applier over the given connection factory.
func NewApplier(conns admin.ConnFactory) *Applier {
	return &Applier{
		conns:  conns,
		logger: logger.New("migration"),
	}
}

// Apply advances the database at loc up to and including target. Already
// completed revisions are skipped, so Apply is safe to retry. It returns
// the revision the database is at afterwards.
func (a *Applier) Apply(ctx context.Context, tenantID string, loc types.DatabaseLocator, revisions []Revision, target string) (string, error) {
	if len(revisions) == 0 {
		return "", nil
	}
	if target == "" {
		target = revisions[len(revisions)-1].ID
	}
	idx := indexOfRevision(revisions, target)
	if idx < 0 {
		return "", fmt.Errorf("unknown target revision %q", target)
	}

	db, err := a.conns.Open(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("failed to connect to tenant database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := a.ensureTable(ctx, db, loc.Engine); err != nil {
		return "", err
	}
	progress, err := a.loadProgress(ctx, db)
	if err != nil {
		return "", err
	}

	applied := ""
	for _, rev := range revisions[:idx+1] {
		p := progress[rev.ID]
		if p.completed {
			applied = rev.ID
			continue
		}

		if loc.Engine.SupportsTransactionalDDL() {
			err = a.applyTransactional(ctx, db, rev)
		} else {
			err = a.applyResumable(ctx, db, rev, p.statementsDone)
		}
		if err != nil {
			return applied, fmt.Errorf("revision %s: %w", rev.ID, err)
		}

		applied = rev.ID
		a.logger.Info(tenantID, "", "Applied schema revision", map[string]interface{}{
			"revision":   rev.ID,
			"statements": len(rev.Statements),
		})
	}
	return applied, nil
}

func (a *Applier) ensureTable(ctx context.Context, db *sql.DB, engine types.Engine) error {
	var ddl string
	if engine == types.EngineMySQL {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
			revision VARCHAR(255) PRIMARY KEY,
			statements_done INT NOT NULL DEFAULT 0,
			completed TINYINT(1) NOT NULL DEFAULT 0,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	} else {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
			revision TEXT PRIMARY KEY,
			statements_done INT NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	return nil
}

func (a *Applier) loadProgress(ctx context.Context, db *sql.DB) (map[string]revisionProgress, error) {
	rows, err := db.QueryContext(ctx, `SELECT revision, statements_done, completed FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration progress: %w", err)
	}
	defer func() { _ = rows.Close() }()

	progress := make(map[string]revisionProgress)
	for rows.Next() {
		var rev string
		var p revisionProgress
		if err := rows.Scan(&rev, &p.statementsDone, &p.completed); err != nil {
			return nil, fmt.Errorf("failed to scan migration progress: %w", err)
		}
		progress[rev] = p
	}
	return progress, rows.Err()
}

// applyTransactional runs the whole revision plus its marker in one
// transaction. Either everything lands or nothing does.
func (a *Applier) applyTransactional(ctx context.Context, db *sql.DB, rev Revision) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, stmt := range rev.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	marker := `INSERT INTO schema_migrations (revision, statements_done, completed)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (revision) DO UPDATE SET statements_done = EXCLUDED.statements_done, completed = TRUE`
	if _, err := tx.ExecContext(ctx, marker, rev.ID, len(rev.Statements)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revision: %w", err)
	}
	return nil
}

// applyResumable runs statements one at a time, recording progress after
// each so a crashed run resumes at the first unapplied statement instead
// of re-running DDL that already took effect.
func (a *Applier) applyResumable(ctx context.Context, db *sql.DB, rev Revision, done int) error {
	upsert := `INSERT INTO schema_migrations (revision, statements_done, completed)
		VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE statements_done = VALUES(statements_done)`

	for i := done; i < len(rev.Statements); i++ {
		if _, err := db.ExecContext(ctx, rev.Statements[i]); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
		if _, err := db.ExecContext(ctx, upsert, rev.ID, i+1); err != nil {
			return fmt.Errorf("failed to record progress: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET completed = 1 WHERE revision = ?`, rev.ID); err != nil {
		return fmt.Errorf("failed to record revision: %w", err)
	}
	return nil
}
