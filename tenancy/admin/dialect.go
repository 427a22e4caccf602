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

package admin

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ledgerline/platform/shared/types"
)

// DatabaseExists reports whether the locator's database exists, using a
// server-scope connection.
func DatabaseExists(ctx context.Context, server *sql.DB, loc types.DatabaseLocator) (bool, error) {
	var query string
	switch loc.Engine {
	case types.EngineMySQL:
		query = `SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`
	default:
		query = `SELECT COUNT(*) FROM pg_database WHERE datname = $1`
	}

	var count int
	if err := server.QueryRowContext(ctx, query, loc.Database).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return count > 0, nil
}

// CreateDatabaseIfAbsent creates the locator's database when it does not
// exist yet. Safe to call repeatedly: the existence check makes retries of
// a partially failed provisioning run idempotent.
func CreateDatabaseIfAbsent(ctx context.Context, server *sql.DB, loc types.DatabaseLocator) (bool, error) {
	exists, err := DatabaseExists(ctx, server, loc)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	// CREATE DATABASE cannot take bind parameters; the identifier is
	// quoted instead.
	var stmt string
	switch loc.Engine {
	case types.EngineMySQL:
		stmt = fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET utf8mb4", QuoteIdent(loc.Engine, loc.Database))
	default:
		stmt = fmt.Sprintf("CREATE DATABASE %s ENCODING 'UTF8'", QuoteIdent(loc.Engine, loc.Database))
	}

	if _, err := server.ExecContext(ctx, stmt); err != nil {
		// A concurrent creator may have won the race between the check
		// and the create; treat duplicates as success.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return false, nil
		}
		return false, fmt.Errorf("failed to create database %s: %w", loc.Database, err)
	}
	return true, nil
}

// QuoteIdent quotes an identifier for the given engine.
func QuoteIdent(engine types.Engine, ident string) string {
	if engine == types.EngineMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
