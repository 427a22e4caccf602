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
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestProvisioningErrorUnwrap verifies step context and cause unwrapping.
func TestProvisioningErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewProvisioningError("acme", "create_database", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatal("expected errors.As to match *ProvisioningError")
	}
	if pe.Step != "create_database" {
		t.Errorf("Step = %s, want create_database", pe.Step)
	}
}

// TestRestoreErrorWrapsVerification verifies the checksum failure surfaces
// through the restore error chain.
func TestRestoreErrorWrapsVerification(t *testing.T) {
	err := &RestoreError{
		TenantID: "acme",
		Phase:    "verify",
		Cause:    fmt.Errorf("object sha mismatch: %w", ErrBackupVerificationFailed),
	}

	if !errors.Is(err, ErrBackupVerificationFailed) {
		t.Error("expected verification sentinel in chain")
	}
}

// TestMigrationPartialFailureMessage verifies failed tenants are listed.
func TestMigrationPartialFailureMessage(t *testing.T) {
	err := &MigrationPartialFailure{
		RunID:          "run-1",
		TargetRevision: "v7",
		Failed:         []string{"acme", "globex"},
	}

	msg := err.Error()
	for _, want := range []string{"run-1", "v7", "acme", "globex", "2 tenant(s)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

// TestTransient verifies transient-vs-structural classification.
func TestTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp 10.0.0.5:5432: connection refused"), true},
		{"bad connection", errors.New("driver: bad connection"), true},
		{"too many connections", errors.New("pq: sorry, too many connections"), true},
		{"syntax error", errors.New(`pq: syntax error at or near "TABEL"`), false},
		{"duplicate column", errors.New("pq: column \"total\" of relation \"invoices\" already exists"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped transient", fmt.Errorf("migrate: %w", errors.New("read tcp: connection reset by peer")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.transient {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.transient)
			}
		})
	}
}
