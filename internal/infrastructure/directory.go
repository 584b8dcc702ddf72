// services/gateway/internal/infrastructure/directory.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"example.com/backstage/services/gateway/config"
	"example.com/backstage/services/gateway/internal/core"
)

// DirectoryClient queries the platform's device-info and group-directory
// providers over HTTP. Callers bound each request with a context deadline;
// the client timeout is a backstop.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a directory client.
func NewDirectoryClient(cfg config.DirectoryConfig) *DirectoryClient {
	return &DirectoryClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// DeviceInfo fetches a device record by id. A 404 maps to
// core.ErrDeviceNotFound.
func (c *DirectoryClient) DeviceInfo(ctx context.Context, deviceID string) (*core.DeviceRecord, error) {
	var rec core.DeviceRecord
	endpoint := c.baseURL + "/devices/" + url.PathEscape(deviceID)
	if err := c.getJSON(ctx, endpoint, &rec, core.ErrDeviceNotFound); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = deviceID
	}
	return &rec, nil
}

// GroupMembers fetches the member device ids of a group. A 404 maps to
// core.ErrGroupNotFound.
func (c *DirectoryClient) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var body struct {
		Members []string `json:"members"`
	}
	endpoint := c.baseURL + "/groups/" + url.PathEscape(groupID) + "/members"
	if err := c.getJSON(ctx, endpoint, &body, core.ErrGroupNotFound); err != nil {
		return nil, err
	}
	return body.Members, nil
}

func (c *DirectoryClient) getJSON(ctx context.Context, endpoint string, out interface{}, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("directory request failed: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}
	return nil
}
