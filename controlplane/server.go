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
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"ledgerline/platform/shared/logger"
	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/registry"
)

// tenantProvisioner creates tenant databases end to end.
type tenantProvisioner interface {
	Provision(ctx context.Context, tenantID, baselineRevision string) (*types.TenantRecord, error)
}

// fleetMigrator rolls schema changes across the fleet.
type fleetMigrator interface {
	MigrateFleet(ctx context.Context, targetRevision string, filter registry.Filter) (*types.MigrationRun, error)
}

// backupCoordinator snapshots and restores individual tenant databases.
type backupCoordinator interface {
	Backup(ctx context.Context, tenantID string) (*types.BackupRecord, error)
	Restore(ctx context.Context, tenantID string, rec *types.BackupRecord) error
	Prune(ctx context.Context, tenantID string, keep int) (int, error)
}

// poolEvictor drains a tenant's connection pool.
type poolEvictor interface {
	Evict(ctx context.Context, tenantID string) error
}

// Server is the operator-facing HTTP API of the control plane. Every
// mutation goes through the registry's conditional updates, so two
// operators racing the same tenant resolve to one winner and one
// 409 Conflict.
type Server struct {
	store       registry.Store
	provisioner tenantProvisioner
	migrator    fleetMigrator
	backups     backupCoordinator
	pools       poolEvictor
	jwtSecret   []byte
	keepBackups int
	logger      *logger.Logger
}

// NewServer wires the control plane API. An empty jwtSecret disables
// operator authentication, which is only acceptable for local
// development.
func NewServer(store registry.Store, prov tenantProvisioner, migrator fleetMigrator, backups backupCoordinator, pools poolEvictor, jwtSecret []byte, keepBackups int) *Server {
	if keepBackups < 1 {
		keepBackups = 5
	}
	return &Server{
		store:       store,
		provisioner: prov,
		migrator:    migrator,
		backups:     backups,
		pools:       pools,
		jwtSecret:   jwtSecret,
		keepBackups: keepBackups,
		logger:      logger.New("controlplane"),
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/tenants", s.createTenantHandler).Methods("POST")
	api.HandleFunc("/tenants", s.listTenantsHandler).Methods("GET")
	api.HandleFunc("/tenants/{id}", s.getTenantHandler).Methods("GET")
	api.HandleFunc("/tenants/{id}", s.deactivateTenantHandler).Methods("DELETE")
	api.HandleFunc("/tenants/{id}/suspend", s.suspendTenantHandler).Methods("POST")
	api.HandleFunc("/tenants/{id}/resume", s.resumeTenantHandler).Methods("POST")
	api.HandleFunc("/tenants/{id}/backups", s.createBackupHandler).Methods("POST")
	api.HandleFunc("/tenants/{id}/backups", s.listBackupsHandler).Methods("GET")
	api.HandleFunc("/tenants/{id}/backups/prune", s.pruneBackupsHandler).Methods("POST")
	api.HandleFunc("/tenants/{id}/restore", s.restoreTenantHandler).Methods("POST")
	api.HandleFunc("/fleet/migrate", s.migrateFleetHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(s.requestIDMiddleware(r))
}
