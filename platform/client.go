// Package platform provides the HTTP client for the remote platform
// orchestration service, which provisions compute instances, installs program
// images, and manages instance controller sets.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/holiman/uint256"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Client talks to the platform orchestration API over HTTP. It implements
// interfaces.PlatformAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a platform client for the given base URL.
func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

type createInstanceRequest struct {
	Controllers []string `json:"controllers"`
	Funding     string   `json:"funding"`
}

type createInstanceResponse struct {
	InstanceID string `json:"instance_id"`
}

type installImageRequest struct {
	Image    []byte `json:"image"`
	InitArgs []byte `json:"init_args,omitempty"`
}

type updateControllersRequest struct {
	Controllers []string `json:"controllers"`
}

// CreateInstance provisions a new instance. The funding amount travels as a
// decimal string to avoid any JSON number precision loss.
func (c *Client) CreateInstance(ctx context.Context, controllers []interfaces.OwnerID, funding *uint256.Int) (interfaces.InstanceID, error) {
	if err := interfaces.RequireAmount(funding); err != nil {
		return "", err
	}

	req := createInstanceRequest{Funding: funding.Dec()}
	for _, controller := range controllers {
		req.Controllers = append(req.Controllers, controller.String())
	}

	var resp createInstanceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/instances", req, &resp); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	if resp.InstanceID == "" {
		return "", fmt.Errorf("%w: platform returned empty instance id", interfaces.ErrInternal)
	}

	c.log.Info("Instance created", slog.String("instance", resp.InstanceID))
	return interfaces.InstanceID(resp.InstanceID), nil
}

// InstallImage installs the program image on an existing instance.
func (c *Client) InstallImage(ctx context.Context, instanceID interfaces.InstanceID, image []byte, initArgs []byte) error {
	req := installImageRequest{Image: image, InitArgs: initArgs}
	path := fmt.Sprintf("/v1/instances/%s/image", instanceID)
	if err := c.do(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("install image on %s: %w", instanceID, err)
	}
	return nil
}

// UpdateControllers replaces the instance's controller set.
func (c *Client) UpdateControllers(ctx context.Context, instanceID interfaces.InstanceID, controllers []interfaces.OwnerID) error {
	req := updateControllersRequest{}
	for _, controller := range controllers {
		req.Controllers = append(req.Controllers, controller.String())
	}
	path := fmt.Sprintf("/v1/instances/%s/controllers", instanceID)
	if err := c.do(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("update controllers on %s: %w", instanceID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to encode request: %s", interfaces.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %s", interfaces.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: platform request failed: %s", interfaces.ErrInternal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: platform returned status %d: %s", classify(resp.StatusCode), resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %s", interfaces.ErrInternal, err)
		}
	}
	return nil
}

// classify maps a remote status code onto the local error taxonomy.
func classify(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return interfaces.ErrUnauthorized
	case http.StatusNotFound:
		return interfaces.ErrNotFound
	case http.StatusBadRequest:
		return interfaces.ErrInvalidArgument
	case http.StatusConflict:
		return interfaces.ErrConflict
	case http.StatusTooManyRequests, http.StatusInsufficientStorage:
		return interfaces.ErrResourceExhausted
	default:
		return interfaces.ErrInternal
	}
}
