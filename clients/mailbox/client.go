package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentpool/clients"
	"agentpool/core"
	"agentpool/models"
)

// DefaultBaseURL is the inbox provider's API endpoint.
const DefaultBaseURL = "https://api.mailchannel.dev/v1"

// Client provisions one inbound mailbox per instance with the inbox provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	domain     string
}

// NewClient creates a new inbox provider client
func NewClient(baseURL, apiToken, domain string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiToken:   apiToken,
		domain:     domain,
	}
}

func (c *Client) Kind() models.ToolKind {
	return models.ToolKindMailbox
}

type createInboxRequest struct {
	Address string `json:"address"`
}

type inboxResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type listInboxesResponse struct {
	Inboxes []inboxResponse `json:"inboxes"`
}

type inboxMeta struct {
	Address string `json:"address"`
}

// Create provisions a deterministic per-instance address so the mailbox can
// be found by name if the store row goes missing.
func (c *Client) Create(ctx context.Context, instanceID string) (*clients.ProvisionedResource, error) {
	address := core.InstanceName(instanceID) + "@" + c.domain

	reqBody := createInboxRequest{Address: address}
	var created inboxResponse
	if err := c.doJSON(ctx, http.MethodPost, "/inboxes", reqBody, &created); err != nil {
		return nil, fmt.Errorf("failed to create inbox: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("no inbox id in create response")
	}

	meta, err := json.Marshal(inboxMeta{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inbox metadata: %w", err)
	}

	return &clients.ProvisionedResource{
		ResourceID:   created.ID,
		EnvKey:       "INBOX_ADDRESS",
		EnvValue:     address,
		ResourceMeta: meta,
	}, nil
}

// Destroy deletes the mailbox. Returns false when it was already gone.
func (c *Client) Destroy(ctx context.Context, resourceID string) (bool, error) {
	err := c.doJSON(ctx, http.MethodDelete, "/inboxes/"+resourceID, nil, nil)
	if err != nil {
		if core.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete inbox: %w", err)
	}
	return true, nil
}

// ListLive returns the provider's full inventory for the configured domain.
func (c *Client) ListLive(ctx context.Context) ([]clients.LiveResource, error) {
	var resp listInboxesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/inboxes?domain="+c.domain, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}

	live := make([]clients.LiveResource, 0, len(resp.Inboxes))
	for _, inbox := range resp.Inboxes {
		live = append(live, clients.LiveResource{ResourceID: inbox.ID, Name: inbox.Address})
	}

	return live, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &core.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
