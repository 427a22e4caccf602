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

package types

import (
	"fmt"
	"net/url"
)

// Engine identifies the database engine backing a tenant database.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// Valid reports whether e is a supported engine.
func (e Engine) Valid() bool {
	return e == EnginePostgres || e == EngineMySQL
}

// DriverName returns the database/sql driver name for the engine.
func (e Engine) DriverName() string {
	if e == EngineMySQL {
		return "mysql"
	}
	return "postgres"
}

// SupportsTransactionalDDL reports whether schema changes can run inside a
// transaction on this engine. PostgreSQL supports transactional DDL; MySQL
// issues implicit commits, so migrations there must be idempotent and
// resumable statement by statement.
func (e Engine) SupportsTransactionalDDL() bool {
	return e == EnginePostgres
}

// DatabaseLocator holds everything needed to connect to one tenant's
// physical database. It is resolved once at provisioning and immutable
// thereafter.
type DatabaseLocator struct {
	Engine   Engine `json:"engine"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// DSN renders the connection string for the locator's engine.
func (l DatabaseLocator) DSN() string {
	return l.dsn(l.Database)
}

// ServerDSN renders a connection string to the engine's maintenance scope
// (the "postgres" database on PostgreSQL, no schema on MySQL), suitable
// for CREATE DATABASE and other server-level administration.
func (l DatabaseLocator) ServerDSN() string {
	if l.Engine == EngineMySQL {
		return l.dsn("")
	}
	return l.dsn("postgres")
}

func (l DatabaseLocator) dsn(database string) string {
	if l.Engine == EngineMySQL {
		// user:pass@tcp(host:port)/dbname?parseTime=true
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			l.User, l.Password, l.Host, l.Port, database)
	}
	sslMode := l.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(l.User), url.QueryEscape(l.Password),
		l.Host, l.Port, database, sslMode)
}

// String returns a loggable form of the locator with the password elided.
func (l DatabaseLocator) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", l.Engine, l.User, l.Host, l.Port, l.Database)
}
