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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"ledgerline/platform/shared/types"
)

func pgLocator(database string) types.DatabaseLocator {
	return types.DatabaseLocator{
		Engine:   types.EnginePostgres,
		Host:     "db-1",
		Port:     5432,
		Database: database,
		User:     "ledgerline",
	}
}

// TestCreateDatabaseIfAbsent verifies check-then-create and the skip path.
func TestCreateDatabaseIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	loc := pgLocator("tenant_acme")

	// Absent: expect existence check then CREATE DATABASE.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_database`).WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE DATABASE "tenant_acme"`).WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := CreateDatabaseIfAbsent(context.Background(), db, loc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("expected created=true for absent database")
	}

	// Present: no CREATE expected.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_database`).WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	created, err = CreateDatabaseIfAbsent(context.Background(), db, loc)
	if err != nil {
		t.Fatalf("create (existing): %v", err)
	}
	if created {
		t.Error("expected created=false for existing database")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestCreateDatabaseRaceTreatedAsSuccess verifies a lost creation race does
// not fail provisioning.
func TestCreateDatabaseRaceTreatedAsSuccess(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pg_database`).WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE DATABASE`).
		WillReturnError(&fakeErr{`pq: database "tenant_acme" already exists`})

	created, err := CreateDatabaseIfAbsent(context.Background(), db, pgLocator("tenant_acme"))
	if err != nil {
		t.Fatalf("expected lost race to be treated as success, got %v", err)
	}
	if created {
		t.Error("lost race should report created=false")
	}
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

// TestQuoteIdent verifies identifier quoting per engine.
func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		engine types.Engine
		in     string
		want   string
	}{
		{types.EnginePostgres, "tenant_acme", `"tenant_acme"`},
		{types.EnginePostgres, `odd"name`, `"odd""name"`},
		{types.EngineMySQL, "tenant_acme", "`tenant_acme`"},
		{types.EngineMySQL, "odd`name", "`odd``name`"},
	}

	for _, tt := range tests {
		if got := QuoteIdent(tt.engine, tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%s, %q) = %s, want %s", tt.engine, tt.in, got, tt.want)
		}
	}
}

// TestDatabaseExistsMySQL verifies the mysql existence query shape.
func TestDatabaseExistsMySQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	loc := types.DatabaseLocator{Engine: types.EngineMySQL, Host: "db-2", Port: 3306, Database: "tenant_acme"}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM information_schema.schemata`).WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := DatabaseExists(context.Background(), db, loc)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("expected exists=true")
	}
}
