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

package controlplane

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"ledgerline/platform/config"
	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/storage/blob"
	"ledgerline/platform/tenancy/admin"
	"ledgerline/platform/tenancy/backup"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/migration"
	"ledgerline/platform/tenancy/provisioner"
	"ledgerline/platform/tenancy/registry"
	"ledgerline/platform/tenancy/router"
)

// Run is the exported entry point for the control plane service. It
// loads configuration, wires every component, and serves the operator
// API until SIGINT or SIGTERM.
func Run() {
	log := logger.New("controlplane")

	cfg, err := config.Load()
	if err != nil {
		log.ErrorWithCause("", "", "Failed to load configuration", err, nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := config.NewSecretResolver(cfg.AWSRegion)
	jwtSecret, err := resolver.Resolve(ctx, cfg.JWTSecretRef)
	if err != nil {
		log.ErrorWithCause("", "", "Failed to resolve JWT secret", err, nil)
		os.Exit(1)
	}
	if jwtSecret == "" {
		log.Warn("", "", "Operator authentication disabled: no JWT secret configured", nil)
	}
	dbPassword, err := resolver.Resolve(ctx, cfg.Placement.PasswordRef)
	if err != nil {
		log.ErrorWithCause("", "", "Failed to resolve tenant database password", err, nil)
		os.Exit(1)
	}

	var store registry.Store
	if cfg.PlatformDatabaseURL == "memory" {
		log.Warn("", "", "Using in-memory tenant registry: records will not survive a restart", nil)
		store = registry.NewMemoryStore()
	} else {
		pg, err := registry.NewPostgresStore(cfg.PlatformDatabaseURL)
		if err != nil {
			log.ErrorWithCause("", "", "Failed to open platform database", err, nil)
			os.Exit(1)
		}
		defer func() { _ = pg.Close() }()
		store = pg
	}

	var leases locks.Manager
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		leases = locks.NewRedisManager(client, "")
		log.Info("", "", "Distributed leases enabled", map[string]interface{}{"redis_addr": cfg.RedisAddr})
	} else {
		log.Warn("", "", "Using in-process leases: run a single control plane instance or configure REDIS_ADDR", nil)
		leases = locks.NewLocalManager()
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Backend:        cfg.Blob.Backend,
		Bucket:         cfg.Blob.Bucket,
		Region:         cfg.Blob.Region,
		Endpoint:       cfg.Blob.Endpoint,
		ForcePathStyle: cfg.Blob.ForcePathStyle,
		Root:           cfg.Blob.Root,
	})
	if err != nil {
		log.ErrorWithCause("", "", "Failed to open blob store", err, nil)
		os.Exit(1)
	}

	source, err := migration.LoadDir(cfg.Migration.Dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.ErrorWithCause("", "", "Failed to load migrations", err, nil)
			os.Exit(1)
		}
		log.Warn("", "", "Migration directory not found, starting with no revisions",
			map[string]interface{}{"dir": cfg.Migration.Dir})
		source = migration.NewChangeSet()
	}

	pools := router.New(store, &router.Options{
		IdleWindow:    cfg.Router.IdleWindow,
		EvictGrace:    cfg.Router.EvictGrace,
		SweepInterval: cfg.Router.SweepInterval,
	})
	defer func() { _ = pools.Close() }()

	conns := admin.NewFactory()
	applier := migration.NewApplier(conns)
	orch := migration.NewOrchestrator(store, source, applier, &migration.Options{
		Workers:     cfg.Migration.Workers,
		MaxAttempts: cfg.Migration.MaxAttempts,
		BaseBackoff: cfg.Migration.BaseBackoff,
	})

	prov := provisioner.New(store, conns, applier, source, leases, provisioner.Placement{
		Engine:   types.Engine(cfg.Placement.Engine),
		Hosts:    cfg.Placement.Hosts,
		Port:     cfg.Placement.Port,
		User:     cfg.Placement.User,
		Password: dbPassword,
		SSLMode:  cfg.Placement.SSLMode,
	})

	coord := backup.NewCoordinator(store, blobs, pools, backup.NewExecDumper(), leases)

	srv := NewServer(store, prov, orch, coord, pools, []byte(jwtSecret), cfg.Backup.Keep)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("", "", "Control plane listening", map[string]interface{}{"addr": cfg.ListenAddr})
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.ErrorWithCause("", "", "HTTP server failed", err, nil)
		os.Exit(1)
	}
	log.Info("", "", "Control plane stopped", nil)
}
