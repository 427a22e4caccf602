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
	"log"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"ledgerline/platform/shared/types"
)

// ConnFactory yields short-lived administrative connections for a database
// locator. Implementations must return connections suitable for DDL, kept
// apart from the Connection Router's application pools: migrations and
// provisioning take exclusive locks the router's pool settings are not
// tuned for.
type ConnFactory interface {
	// Open connects to the tenant database itself.
	Open(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error)
	// OpenServer connects to the engine's maintenance scope for
	// server-level operations such as CREATE DATABASE.
	OpenServer(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error)
}

// Factory is the default ConnFactory backed by database/sql drivers.
type Factory struct {
	logger *log.Logger
	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// NewFactory creates a ConnFactory for administrative connections.
func NewFactory() *Factory {
	return &Factory{
		logger:         log.New(os.Stdout, "[AdminConn] ", log.LstdFlags),
		ConnectTimeout: 10 * time.Second,
	}
}

// Open connects to the tenant database named by the locator.
func (f *Factory) Open(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error) {
	return f.open(ctx, loc, loc.DSN())
}

// OpenServer connects to the engine's maintenance scope.
func (f *Factory) OpenServer(ctx context.Context, loc types.DatabaseLocator) (*sql.DB, error) {
	return f.open(ctx, loc, loc.ServerDSN())
}

func (f *Factory) open(ctx context.Context, loc types.DatabaseLocator, dsn string) (*sql.DB, error) {
	if !loc.Engine.Valid() {
		return nil, fmt.Errorf("unsupported engine %q for %s", loc.Engine, loc)
	}

	db, err := sql.Open(loc.Engine.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin connection to %s: %w", loc, err)
	}

	// Administrative work is sequential per tenant; two connections cover
	// a worker plus a health probe without holding DDL-capable sessions open.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, f.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", loc, err)
	}

	return db, nil
}

// Verify Factory implements ConnFactory
var _ ConnFactory = (*Factory)(nil)
