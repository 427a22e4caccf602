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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the control plane's full configuration. Values merge in
// three layers: built-in defaults, then the optional YAML file named by
// CONTROLPLANE_CONFIG, then environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// PlatformDatabaseURL is the registry's own postgres. The literal
	// "memory" selects the in-memory store for single-node development.
	PlatformDatabaseURL string `yaml:"platform_database_url"`

	// RedisAddr enables distributed leases; empty falls back to
	// in-process leases.
	RedisAddr string `yaml:"redis_addr"`

	// JWTSecretRef is a secret reference (aws-sm://, env://, or literal)
	// for the operator token signing key.
	JWTSecretRef string `yaml:"jwt_secret_ref"`

	AWSRegion string `yaml:"aws_region"`

	Blob      BlobConfig      `yaml:"blob"`
	Placement PlacementConfig `yaml:"tenant_placement"`
	Router    RouterConfig    `yaml:"router"`
	Migration MigrationConfig `yaml:"migration"`
	Backup    BackupConfig    `yaml:"backup"`
}

// BlobConfig selects the backup artifact store.
type BlobConfig struct {
	Backend        string `yaml:"backend"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	Root           string `yaml:"root"`
}

// PlacementConfig decides where new tenant databases are created.
type PlacementConfig struct {
	Engine      string   `yaml:"engine"`
	Hosts       []string `yaml:"hosts"`
	Port        int      `yaml:"port"`
	User        string   `yaml:"user"`
	PasswordRef string   `yaml:"password_ref"`
	SSLMode     string   `yaml:"ssl_mode"`
}

// RouterConfig tunes the connection router.
type RouterConfig struct {
	IdleWindow    time.Duration `yaml:"idle_window"`
	EvictGrace    time.Duration `yaml:"evict_grace"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MigrationConfig tunes fleet migration fan-out.
type MigrationConfig struct {
	Dir         string        `yaml:"dir"`
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// BackupConfig tunes backup retention.
type BackupConfig struct {
	Keep int `yaml:"keep"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:          ":8090",
		PlatformDatabaseURL: "memory",
		Blob: BlobConfig{
			Backend: "memory",
		},
		Placement: PlacementConfig{
			Engine:  "postgres",
			Hosts:   []string{"localhost"},
			Port:    5432,
			User:    "ledgerline",
			SSLMode: "disable",
		},
		Router: RouterConfig{
			IdleWindow:    10 * time.Minute,
			EvictGrace:    10 * time.Second,
			SweepInterval: time.Minute,
		},
		Migration: MigrationConfig{
			Dir:         "migrations",
			Workers:     4,
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
		},
		Backup: BackupConfig{
			Keep: 5,
		},
	}
}

// Load merges defaults, the optional YAML file named by
// CONTROLPLANE_CONFIG, and environment variables (strongest).
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONTROLPLANE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "CONTROLPLANE_LISTEN_ADDR")
	setString(&cfg.PlatformDatabaseURL, "PLATFORM_DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.JWTSecretRef, "JWT_SECRET_REF")
	setString(&cfg.AWSRegion, "AWS_REGION")

	setString(&cfg.Blob.Backend, "BLOB_BACKEND")
	setString(&cfg.Blob.Bucket, "BLOB_BUCKET")
	setString(&cfg.Blob.Region, "BLOB_REGION")
	setString(&cfg.Blob.Endpoint, "BLOB_ENDPOINT")
	setString(&cfg.Blob.Root, "BLOB_ROOT")
	setBool(&cfg.Blob.ForcePathStyle, "BLOB_FORCE_PATH_STYLE")

	setString(&cfg.Placement.Engine, "TENANT_DB_ENGINE")
	setString(&cfg.Placement.User, "TENANT_DB_USER")
	setString(&cfg.Placement.PasswordRef, "TENANT_DB_PASSWORD_REF")
	setString(&cfg.Placement.SSLMode, "TENANT_DB_SSL_MODE")
	setInt(&cfg.Placement.Port, "TENANT_DB_PORT")
	if v := os.Getenv("TENANT_DB_HOSTS"); v != "" {
		hosts := strings.Split(v, ",")
		for i := range hosts {
			hosts[i] = strings.TrimSpace(hosts[i])
		}
		cfg.Placement.Hosts = hosts
	}

	setDuration(&cfg.Router.IdleWindow, "ROUTER_IDLE_WINDOW")
	setDuration(&cfg.Router.EvictGrace, "ROUTER_EVICT_GRACE")
	setDuration(&cfg.Router.SweepInterval, "ROUTER_SWEEP_INTERVAL")

	setString(&cfg.Migration.Dir, "MIGRATION_DIR")
	setInt(&cfg.Migration.Workers, "MIGRATION_WORKERS")
	setInt(&cfg.Migration.MaxAttempts, "MIGRATION_MAX_ATTEMPTS")
	setDuration(&cfg.Migration.BaseBackoff, "MIGRATION_BASE_BACKOFF")

	setInt(&cfg.Backup.Keep, "BACKUP_KEEP")
}

func (c *Config) validate() error {
	if len(c.Placement.Hosts) == 0 {
		return fmt.Errorf("tenant_placement.hosts must not be empty")
	}
	switch c.Placement.Engine {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("tenant_placement.engine must be postgres or mysql, got %q", c.Placement.Engine)
	}
	if c.Migration.Workers < 1 {
		return fmt.Errorf("migration.workers must be at least 1")
	}
	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
