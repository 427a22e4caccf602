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

package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"ledgerline/platform/shared/types"
)

// Dumper produces and replays logical snapshots of one tenant database.
// The coordinator treats the snapshot as an opaque byte stream.
type Dumper interface {
	// Dump writes a consistent logical export of the database to w.
	Dump(ctx context.Context, loc types.DatabaseLocator, w io.Writer) error
	// Restore replaces the database contents from a snapshot stream.
	Restore(ctx context.Context, loc types.DatabaseLocator, r io.Reader) error
}

// ExecDumper shells out to the engine's native dump and load tools
// (pg_dump/psql, mysqldump/mysql). The tools must be on PATH.
type ExecDumper struct{}

// NewExecDumper creates a Dumper backed by the engine CLI tools.
func NewExecDumper() *ExecDumper {
	return &ExecDumper{}
}

func (d *ExecDumper) Dump(ctx context.Context, loc types.DatabaseLocator, w io.Writer) error {
	var cmd *exec.Cmd
	if loc.Engine == types.EngineMySQL {
		cmd = exec.CommandContext(ctx, "mysqldump",
			"--host", loc.Host,
			"--port", strconv.Itoa(loc.Port),
			"--user", loc.User,
			"--single-transaction",
			"--routines",
			loc.Database,
		)
		cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+loc.Password)
	} else {
		cmd = exec.CommandContext(ctx, "pg_dump",
			"--host", loc.Host,
			"--port", strconv.Itoa(loc.Port),
			"--username", loc.User,
			"--dbname", loc.Database,
			"--clean", "--if-exists", "--no-owner",
		)
		cmd.Env = append(cmd.Environ(), "PGPASSWORD="+loc.Password)
	}

	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dump of %s failed: %w: %s", loc.Database, err, stderr.String())
	}
	return nil
}

func (d *ExecDumper) Restore(ctx context.Context, loc types.DatabaseLocator, r io.Reader) error {
	var cmd *exec.Cmd
	if loc.Engine == types.EngineMySQL {
		cmd = exec.CommandContext(ctx, "mysql",
			"--host", loc.Host,
			"--port", strconv.Itoa(loc.Port),
			"--user", loc.User,
			loc.Database,
		)
		cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+loc.Password)
	} else {
		cmd = exec.CommandContext(ctx, "psql",
			"--host", loc.Host,
			"--port", strconv.Itoa(loc.Port),
			"--username", loc.User,
			"--dbname", loc.Database,
			"-v", "ON_ERROR_STOP=1",
			"--single-transaction",
		)
		cmd.Env = append(cmd.Environ(), "PGPASSWORD="+loc.Password)
	}

	var stderr bytes.Buffer
	cmd.Stdin = r
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restore of %s failed: %w: %s", loc.Database, err, stderr.String())
	}
	return nil
}

// Verify ExecDumper implements Dumper
var _ Dumper = (*ExecDumper)(nil)
