package anthropickeys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/samber/mo"

	"agentpool/clients"
	"agentpool/core"
	"agentpool/models"
)

const adminAPIBaseURL = "https://api.anthropic.com/v1/organizations"

// Client mints and retires per-instance LLM API keys through the Anthropic
// admin API. Keys are named deterministically from the instance id so a
// missing store row can still be cleaned up by name lookup.
type Client struct {
	httpClient  *http.Client
	adminAPIKey string
	workspaceID string
}

// NewClient creates a new credential provider client
func NewClient(adminAPIKey, workspaceID string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		adminAPIKey: adminAPIKey,
		workspaceID: workspaceID,
	}
}

func (c *Client) Kind() models.ToolKind {
	return models.ToolKindCredential
}

type createKeyRequest struct {
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
}

type apiKeyResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Key    string `json:"key"`
	Status string `json:"status"`
}

type listKeysResponse struct {
	Data    []apiKeyResponse `json:"data"`
	HasMore bool             `json:"has_more"`
	LastID  string           `json:"last_id"`
}

type keyMeta struct {
	KeyID   string `json:"key_id"`
	KeyName string `json:"key_name"`
}

// Create mints a new API key for the instance and smoke-tests it with a
// models listing before handing it out.
func (c *Client) Create(ctx context.Context, instanceID string) (*clients.ProvisionedResource, error) {
	keyName := core.InstanceName(instanceID)

	reqBody := createKeyRequest{Name: keyName, WorkspaceID: c.workspaceID}
	var created apiKeyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api_keys", reqBody, &created); err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}
	if created.ID == "" || created.Key == "" {
		return nil, fmt.Errorf("missing key material in create response")
	}

	if err := c.validateKey(ctx, created.Key); err != nil {
		log.Printf("⚠️ Freshly minted key %s failed validation, retiring it: %v", created.ID, err)
		if _, destroyErr := c.Destroy(ctx, created.ID); destroyErr != nil {
			log.Printf("⚠️ Failed to retire invalid key %s: %v", created.ID, destroyErr)
		}
		return nil, fmt.Errorf("minted key failed validation: %w", err)
	}

	meta, err := json.Marshal(keyMeta{KeyID: created.ID, KeyName: keyName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key metadata: %w", err)
	}

	return &clients.ProvisionedResource{
		ResourceID:   created.ID,
		EnvKey:       "ANTHROPIC_API_KEY",
		EnvValue:     created.Key,
		ResourceMeta: meta,
	}, nil
}

// Destroy archives the key. Returns false when the key was already gone.
func (c *Client) Destroy(ctx context.Context, resourceID string) (bool, error) {
	reqBody := map[string]string{"status": "archived"}
	err := c.doJSON(ctx, http.MethodPatch, "/api_keys/"+resourceID, reqBody, nil)
	if err != nil {
		if core.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to archive api key: %w", err)
	}
	return true, nil
}

// ListLive returns every active key in the workspace, paginating the admin API.
func (c *Client) ListLive(ctx context.Context) ([]clients.LiveResource, error) {
	var live []clients.LiveResource
	afterID := ""

	for {
		path := "/api_keys?limit=100&status=active&workspace_id=" + c.workspaceID
		if afterID != "" {
			path += "&after_id=" + afterID
		}

		var page listKeysResponse
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list api keys: %w", err)
		}

		for _, key := range page.Data {
			live = append(live, clients.LiveResource{ResourceID: key.ID, Name: key.Name})
		}

		if !page.HasMore || page.LastID == "" {
			break
		}
		afterID = page.LastID
	}

	return live, nil
}

// FindResourceIDByInstanceID looks a key up by its deterministic name. Used
// by the teardown fallback when the resource row is missing.
func (c *Client) FindResourceIDByInstanceID(ctx context.Context, instanceID string) (mo.Option[string], error) {
	keyName := core.InstanceName(instanceID)

	live, err := c.ListLive(ctx)
	if err != nil {
		return mo.None[string](), err
	}

	for _, key := range live {
		if key.Name == keyName {
			return mo.Some(key.ResourceID), nil
		}
	}

	return mo.None[string](), nil
}

// validateKey runs a cheap authenticated call with the minted key.
func (c *Client) validateKey(ctx context.Context, key string) error {
	client := anthropic.NewClient(option.WithAPIKey(key))
	if _, err := client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("models listing with minted key failed: %w", err)
	}
	return nil
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

	req, err := http.NewRequestWithContext(ctx, method, adminAPIBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.adminAPIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
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
