package adminhandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/arcadia-cloud/tenant-split-backend/api"
)

// Client calls the admin endpoints of a remote service.
type Client struct {
	// ServerAddr is the base URL of the service.
	ServerAddr string

	// Admin is the identity sent in the caller header; it must be on the
	// service's admin allowlist.
	Admin string
}

// LedgerStatus reports the ledger.
func (c *Client) LedgerStatus() (*api.LedgerStatusResponse, error) {
	var resp api.LedgerStatusResponse
	if err := c.do(http.MethodGet, "/api/admin/ledger", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddReserve credits the reserve and returns the updated ledger.
func (c *Client) AddReserve(amount string) (*api.LedgerStatusResponse, error) {
	var resp api.LedgerStatusResponse
	if err := c.do(http.MethodPost, "/api/admin/ledger/reserve", api.AmountRequest{Amount: amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetThreshold replaces the minimum-threshold policy and returns the updated
// ledger.
func (c *Client) SetThreshold(amount string) (*api.LedgerStatusResponse, error) {
	var resp api.LedgerStatusResponse
	if err := c.do(http.MethodPost, "/api/admin/ledger/threshold", api.AmountRequest{Amount: amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListByOwner lists registry entries for one owner.
func (c *Client) ListByOwner(owner string) ([]api.RegistryEntryResponse, error) {
	var resp []api.RegistryEntryResponse
	path := "/api/admin/registry?owner=" + url.QueryEscape(owner)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListByStatus lists registry entries in one status.
func (c *Client) ListByStatus(status string) ([]api.RegistryEntryResponse, error) {
	var resp []api.RegistryEntryResponse
	path := "/api/admin/registry?status=" + url.QueryEscape(status)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetEntry returns one registry entry.
func (c *Client) GetEntry(instanceID string) (*api.RegistryEntryResponse, error) {
	var resp api.RegistryEntryResponse
	if err := c.do(http.MethodGet, "/api/admin/registry/"+url.PathEscape(instanceID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveEntry drops an abandoned registry entry.
func (c *Client) RemoveEntry(instanceID string) error {
	return c.do(http.MethodDelete, "/api/admin/registry/"+url.PathEscape(instanceID), nil, nil)
}

// SweepSessions evicts expired import sessions and returns how many were
// removed.
func (c *Client) SweepSessions() (int, error) {
	var resp map[string]int
	if err := c.do(http.MethodPost, "/api/admin/import/sweep", nil, &resp); err != nil {
		return 0, err
	}
	return resp["evicted"], nil
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.ServerAddr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.CallerHeader, c.Admin)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%s returned non-2xx response: %d", path, resp.StatusCode)
		}
		return fmt.Errorf("%s returned error %d: %s", path, resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("could not parse response: %w", err)
		}
	}
	return nil
}
