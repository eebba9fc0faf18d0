package migrationhandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/arcadia-cloud/tenant-split-backend/api"
)

// Client calls the migration and import endpoints of a remote service.
type Client struct {
	// ServerAddr is the base URL of the service.
	ServerAddr string

	// Caller is the identity sent in the caller header.
	Caller string
}

// RunMigration triggers the caller's migration and returns the structured
// result.
func (c *Client) RunMigration() (*api.MigrationResponse, error) {
	var resp api.MigrationResponse
	if err := c.do(http.MethodPost, "/api/migrations/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MigrationStatus polls the caller's migration record.
func (c *Client) MigrationStatus() (*api.MigrationResponse, error) {
	var resp api.MigrationResponse
	if err := c.do(http.MethodGet, "/api/migrations/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BeginImport opens an import session.
func (c *Client) BeginImport() (string, error) {
	var resp api.BeginImportResponse
	if err := c.do(http.MethodPost, "/api/import/sessions", nil, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// PutChunk uploads one chunk into a session.
func (c *Client) PutChunk(sessionID string, req api.PutChunkRequest) error {
	return c.do(http.MethodPost, fmt.Sprintf("/api/import/sessions/%s/chunks", sessionID), req, nil)
}

// CommitObject closes one object in a session.
func (c *Client) CommitObject(sessionID string, req api.CommitObjectRequest) error {
	return c.do(http.MethodPost, fmt.Sprintf("/api/import/sessions/%s/objects", sessionID), req, nil)
}

// FinalizeImport closes a session and returns its totals.
func (c *Client) FinalizeImport(sessionID string) (*api.FinalizeImportResponse, error) {
	var resp api.FinalizeImportResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/import/sessions/%s/finalize", sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
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
	req.Header.Set(api.CallerHeader, c.Caller)

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
