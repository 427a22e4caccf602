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

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when a locator resolves to no stored blob.
var ErrNotFound = errors.New("blob not found")

// Store is durable object storage for backup artifacts. Put returns an
// opaque locator ("s3://bucket/key" and friends) that Get and Delete
// accept back. Integrity is the caller's concern: the backup coordinator
// checksums content before and after storage.
type Store interface {
	// Put stores the reader's content under key and returns its locator.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// Get opens the blob at locator. The caller closes the reader.
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	// Delete removes the blob at locator. Deleting a missing blob is an error.
	Delete(ctx context.Context, locator string) error
	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is one of "s3", "gcs", "azure", "filesystem", "memory".
	Backend string
	Bucket  string

	// S3 (including MinIO-compatible endpoints).
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// GCS.
	CredentialsFile string

	// Azure.
	AccountName      string
	AccountKey       string
	ConnectionString string

	// Filesystem.
	Root string
}

// Open builds the Store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	case "azure":
		return NewAzureStore(cfg)
	case "filesystem", "file":
		return NewFilesystemStore(cfg.Root)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// keyFromLocator strips "scheme://bucket/" from a locator, tolerating a
// bare key for callers that stored one.
func keyFromLocator(locator, scheme, bucket string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(locator, prefix) {
		return locator
	}
	rest := strings.TrimPrefix(locator, prefix)
	if bucket != "" {
		rest = strings.TrimPrefix(rest, bucket+"/")
	}
	return rest
}
