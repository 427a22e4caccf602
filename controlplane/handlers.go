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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ledgerline/platform/shared/types"
	"ledgerline/platform/tenancy/locks"
	"ledgerline/platform/tenancy/registry"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "ledgerline-controlplane",
		"timestamp": time.Now().UTC(),
	})
}

type createTenantRequest struct {
	TenantID         string `json:"tenant_id"`
	BaselineRevision string `json:"baseline_revision"`
}

func (s *Server) createTenantHandler(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		s.sendError(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.provisioner.Provision(r.Context(), req.TenantID, req.BaselineRevision)
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	s.sendJSON(w, http.StatusCreated, rec)
}

func (s *Server) listTenantsHandler(w http.ResponseWriter, r *http.Request) {
	var filter registry.Filter
	for _, raw := range r.URL.Query()["state"] {
		state := types.LifecycleState(raw)
		if !state.Valid() {
			s.sendError(w, "unknown lifecycle state "+raw, http.StatusBadRequest)
			return
		}
		filter.States = append(filter.States, state)
	}

	tenants, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (s *Server) getTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	rec, err := s.store.Get(r.Context(), tenantID)
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

func (s *Server) suspendTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	err := s.store.ConditionalUpdate(r.Context(), tenantID,
		types.StateActive, types.StateSuspended, registry.Fields{})
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}

	// Drop live connections so the suspension takes effect immediately.
	if err := s.pools.Evict(r.Context(), tenantID); err != nil {
		s.logger.ErrorWithCause(tenantID, requestID(r.Context()), "Pool eviction after suspend failed", err, nil)
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"state":     string(types.StateSuspended),
	})
}

func (s *Server) resumeTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	err := s.store.ConditionalUpdate(r.Context(), tenantID,
		types.StateSuspended, types.StateActive, registry.Fields{})
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"state":     string(types.StateActive),
	})
}

func (s *Server) deactivateTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	rec, err := s.store.Get(r.Context(), tenantID)
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	if !types.CanTransition(rec.State, types.StateDeactivated) {
		s.sendError(w, "tenant "+tenantID+" cannot be deactivated from "+string(rec.State), http.StatusConflict)
		return
	}

	err = s.store.ConditionalUpdate(r.Context(), tenantID,
		rec.State, types.StateDeactivated, registry.Fields{})
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}

	if err := s.pools.Evict(r.Context(), tenantID); err != nil {
		s.logger.ErrorWithCause(tenantID, requestID(r.Context()), "Pool eviction after deactivate failed", err, nil)
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"state":     string(types.StateDeactivated),
	})
}

type migrateFleetRequest struct {
	TargetRevision string   `json:"target_revision"`
	TenantIDs      []string `json:"tenant_ids,omitempty"`
}

// migrateFleetHandler fans the migration out and always answers with the
// per-tenant outcome report. A run with failed tenants is still a
// completed run; the report tells the operator who needs remediation.
func (s *Server) migrateFleetHandler(w http.ResponseWriter, r *http.Request) {
	var req migrateFleetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.migrator.MigrateFleet(r.Context(), req.TargetRevision,
		registry.Filter{TenantIDs: req.TenantIDs})

	var partial *types.MigrationPartialFailure
	if err != nil && !errors.As(err, &partial) {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"run":       run,
		"succeeded": run.Succeeded(),
		"failed":    run.Failed(),
	})
}

func (s *Server) createBackupHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	rec, err := s.backups.Backup(r.Context(), tenantID)
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	s.sendJSON(w, http.StatusCreated, rec)
}

func (s *Server) listBackupsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	if _, err := s.store.Get(r.Context(), tenantID); err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	backups, err := s.store.ListBackups(r.Context(), tenantID)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

type restoreRequest struct {
	BackupID string `json:"backup_id"`
}

func (s *Server) restoreTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BackupID == "" {
		s.sendError(w, "backup_id is required", http.StatusBadRequest)
		return
	}

	backupRec, err := s.findBackup(r, tenantID, req.BackupID)
	if err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	if backupRec == nil {
		s.sendError(w, "backup "+req.BackupID+" not found for tenant "+tenantID, http.StatusNotFound)
		return
	}

	if err := s.backups.Restore(r.Context(), tenantID, backupRec); err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"state":     string(types.StateActive),
		"revision":  backupRec.Revision,
	})
}

func (s *Server) findBackup(r *http.Request, tenantID, backupID string) (*types.BackupRecord, error) {
	backups, err := s.store.ListBackups(r.Context(), tenantID)
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		if b.ID == backupID {
			return b, nil
		}
	}
	return nil, nil
}

type pruneRequest struct {
	Keep int `json:"keep"`
}

func (s *Server) pruneBackupsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	req := pruneRequest{Keep: s.keepBackups}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Keep < 1 {
		s.sendError(w, "keep must be at least 1", http.StatusBadRequest)
		return
	}

	if _, err := s.store.Get(r.Context(), tenantID); err != nil {
		s.sendError(w, err.Error(), statusFromError(err))
		return
	}
	pruned, err := s.backups.Prune(r.Context(), tenantID, req.Keep)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"pruned":    pruned,
	})
}

// statusFromError maps domain errors onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownTenant):
		return http.StatusNotFound
	case errors.Is(err, types.ErrStateConflict), errors.Is(err, locks.ErrLeaseHeld):
		return http.StatusConflict
	case errors.Is(err, types.ErrTenantSuspended):
		return http.StatusConflict
	case errors.Is(err, types.ErrBackupVerificationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorWithCause("", "", "Error encoding response", err, nil)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
