// Package api provides a client for the LedgerLine control plane API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a client for the control plane operator API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Tenant mirrors the control plane's tenant record on the wire.
type Tenant struct {
	TenantID            string     `json:"tenant_id"`
	State               string     `json:"lifecycle_state"`
	CreatedAt           time.Time  `json:"created_at"`
	LastMigratedVersion string     `json:"last_migrated_version"`
	LastBackupAt        *time.Time `json:"last_backup_at,omitempty"`
}

// Backup mirrors one backup record on the wire.
type Backup struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	TakenAt  time.Time `json:"taken_at"`
	Size     int64     `json:"size"`
	Revision string    `json:"revision"`
}

// TenantOutcome is one tenant's result inside a migration run.
type TenantOutcome struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// MigrationRun is the report of one fleet migration.
type MigrationRun struct {
	ID             string          `json:"id"`
	TargetRevision string          `json:"target_revision"`
	Outcomes       []TenantOutcome `json:"outcomes"`
}

// MigrationReport is the full fleet migration response.
type MigrationReport struct {
	Run       MigrationRun `json:"run"`
	Succeeded []string     `json:"succeeded"`
	Failed    []string     `json:"failed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a new control plane API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateTenant provisions a new tenant database.
func (c *Client) CreateTenant(tenantID, baselineRevision string) (*Tenant, error) {
	var tenant Tenant
	err := c.do("POST", "/api/v1/tenants", map[string]string{
		"tenant_id":         tenantID,
		"baseline_revision": baselineRevision,
	}, &tenant)
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ListTenants returns all tenants, optionally filtered by state.
func (c *Client) ListTenants(state string) ([]Tenant, error) {
	path := "/api/v1/tenants"
	if state != "" {
		path += "?state=" + state
	}
	var out struct {
		Tenants []Tenant `json:"tenants"`
	}
	if err := c.do("GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tenants, nil
}

// GetTenant returns one tenant's record.
func (c *Client) GetTenant(tenantID string) (*Tenant, error) {
	var tenant Tenant
	if err := c.do("GET", "/api/v1/tenants/"+tenantID, nil, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// SuspendTenant suspends an active tenant.
func (c *Client) SuspendTenant(tenantID string) error {
	return c.do("POST", "/api/v1/tenants/"+tenantID+"/suspend", nil, nil)
}

// ResumeTenant reactivates a suspended tenant.
func (c *Client) ResumeTenant(tenantID string) error {
	return c.do("POST", "/api/v1/tenants/"+tenantID+"/resume", nil, nil)
}

// DeactivateTenant permanently deactivates a tenant.
func (c *Client) DeactivateTenant(tenantID string) error {
	return c.do("DELETE", "/api/v1/tenants/"+tenantID, nil, nil)
}

// MigrateFleet rolls the fleet to the target revision and returns the
// per-tenant report.
func (c *Client) MigrateFleet(targetRevision string, tenantIDs []string) (*MigrationReport, error) {
	var report MigrationReport
	err := c.do("POST", "/api/v1/fleet/migrate", map[string]interface{}{
		"target_revision": targetRevision,
		"tenant_ids":      tenantIDs,
	}, &report)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// CreateBackup snapshots a tenant's database.
func (c *Client) CreateBackup(tenantID string) (*Backup, error) {
	var backup Backup
	if err := c.do("POST", "/api/v1/tenants/"+tenantID+"/backups", nil, &backup); err != nil {
		return nil, err
	}
	return &backup, nil
}

// ListBackups returns a tenant's backups, newest first.
func (c *Client) ListBackups(tenantID string) ([]Backup, error) {
	var out struct {
		Backups []Backup `json:"backups"`
	}
	if err := c.do("GET", "/api/v1/tenants/"+tenantID+"/backups", nil, &out); err != nil {
		return nil, err
	}
	return out.Backups, nil
}

// RestoreTenant restores a tenant from one of its backups.
func (c *Client) RestoreTenant(tenantID, backupID string) error {
	return c.do("POST", "/api/v1/tenants/"+tenantID+"/restore", map[string]string{
		"backup_id": backupID,
	}, nil)
}

// PruneBackups deletes backup artifacts beyond the keep count.
func (c *Client) PruneBackups(tenantID string, keep int) (int, error) {
	var out struct {
		Pruned int `json:"pruned"`
	}
	err := c.do("POST", "/api/v1/tenants/"+tenantID+"/backups/prune", map[string]int{
		"keep": keep,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Pruned, nil
}

// do executes one API request, decoding the response into out when the
// call succeeds and surfacing the server's error message when it fails.
func (c *Client) do(method, path string, payload, out interface{}) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
