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
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Revision is one schema change: an identifier and the ordered statements
// that realize it. Revisions apply oldest first and are never edited once
// shipped; fixes go in a new revision.
type Revision struct {
	ID         string
	Statements []string
}

// Source yields the ordered list of revisions for the tenant schema.
type Source interface {
	// Revisions returns all revisions, oldest first.
	Revisions(ctx context.Context) ([]Revision, error)
}

// ChangeSet is an in-code Source. The control plane embeds its revision
// history here; tests build small ones inline.
type ChangeSet struct {
	revisions []Revision
}

// NewChangeSet creates a Source over the given revisions, kept in the
// order passed.
func NewChangeSet(revisions ...Revision) *ChangeSet {
	return &ChangeSet{revisions: revisions}
}

// Revisions returns the change set's revisions.
func (c *ChangeSet) Revisions(ctx context.Context) ([]Revision, error) {
	out := make([]Revision, len(c.revisions))
	copy(out, c.revisions)
	return out, nil
}

// LoadDir reads a directory of .sql files into a ChangeSet. Files are
// ordered by name, so the convention is a numeric prefix:
// 001_create_accounts.sql, 002_add_ledger_entries.sql. The revision ID is
// the file name without extension.
func LoadDir(dir string) (*ChangeSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var revisions []Revision
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		stmts := SplitStatements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		revisions = append(revisions, Revision{
			ID:         strings.TrimSuffix(name, ".sql"),
			Statements: stmts,
		})
	}
	return NewChangeSet(revisions...), nil
}

// SplitStatements splits a migration file into statements on semicolons
// that terminate a line. Comment-only lines are dropped. Deliberately
// simple: migration files with semicolons inside string literals at end
// of line should use one statement per file.
func SplitStatements(sql string) []string {
	var stmts []string
	var current []string

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current = append(current, line)
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(strings.Join(current, "\n"))
			stmts = append(stmts, strings.TrimSuffix(stmt, ";"))
			current = nil
		}
	}
	if len(current) > 0 {
		stmts = append(stmts, strings.TrimSpace(strings.Join(current, "\n")))
	}
	return stmts
}

// indexOfRevision locates target in revisions, or -1.
func indexOfRevision(revisions []Revision, target string) int {
	for i, r := range revisions {
		if r.ID == target {
			return i
		}
	}
	return -1
}
