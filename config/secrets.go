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

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretsAPI is the slice of the Secrets Manager client the resolver
// needs, abstracted for tests.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretResolver resolves secret references of three shapes:
//
//	aws-sm://name-or-arn  -> AWS Secrets Manager lookup
//	env://VAR             -> environment variable
//	anything else         -> the literal value itself
//
// Secrets Manager lookups are cached briefly so a config with several
// references does not hammer the API.
type SecretResolver struct {
	region string

	mu     sync.Mutex
	api    secretsAPI
	cache  map[string]cachedSecret
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewSecretResolver creates a resolver. The AWS client is built lazily
// on the first aws-sm:// reference.
func NewSecretResolver(region string) *SecretResolver {
	return &SecretResolver{
		region: region,
		cache:  make(map[string]cachedSecret),
		ttl:    5 * time.Minute,
	}
}

// Resolve dereferences ref to its secret value.
func (r *SecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env://"):
		return os.Getenv(strings.TrimPrefix(ref, "env://")), nil
	case strings.HasPrefix(ref, "aws-sm://"):
		return r.resolveAWS(ctx, strings.TrimPrefix(ref, "aws-sm://"))
	default:
		return ref, nil
	}
}

func (r *SecretResolver) resolveAWS(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if entry, ok := r.cache[name]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.value, nil
	}
	api := r.api
	r.mu.Unlock()

	if api == nil {
		cfgOpts := []func(*awsconfig.LoadOptions) error{}
		if r.region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(r.region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return "", fmt.Errorf("failed to load AWS config: %w", err)
		}
		api = secretsmanager.NewFromConfig(awsCfg)

		r.mu.Lock()
		if r.api == nil {
			r.api = api
		} else {
			api = r.api
		}
		r.mu.Unlock()
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskSecretName(name), err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskSecretName(name))
	}

	r.mu.Lock()
	r.cache[name] = cachedSecret{value: *out.SecretString, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return *out.SecretString, nil
}

// maskSecretName hides all but the tail of a secret name in errors.
func maskSecretName(name string) string {
	if len(name) <= 12 {
		return "***"
	}
	return "..." + name[len(name)-8:]
}
