package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentpool/clients"
	"agentpool/core"
)

// InstanceClient talks to the collaborator-facing endpoints every instance
// runtime exposes: GET /pool/health and POST /pool/provision.
type InstanceClient struct {
	httpClient *http.Client
}

// NewInstanceClient creates a client for instance health and provision calls.
// Per-call deadlines come from the caller's context; the transport timeout is
// only a backstop.
func NewInstanceClient() clients.InstanceClient {
	return &InstanceClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *InstanceClient) CheckHealth(ctx context.Context, baseURL string) (*clients.HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalizeBaseURL(baseURL)+"/pool/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &core.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result clients.HealthResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &result, nil
}

func (c *InstanceClient) Provision(
	ctx context.Context,
	baseURL string,
	provisionReq clients.ProvisionRequest,
) (*clients.ProvisionResult, error) {
	jsonBody, err := json.Marshal(provisionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		normalizeBaseURL(baseURL)+"/pool/provision",
		bytes.NewBuffer(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provision call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		body, _ := io.ReadAll(resp.Body)
		// The runtime is already bound to a conversation; every future
		// attempt against this instance will fail the same way.
		return nil, fmt.Errorf("%w: instance already bound: %s", core.ErrPermanent, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &core.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result clients.ProvisionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode provision response: %w", err)
	}

	if result.ConversationID == "" {
		return nil, fmt.Errorf("no conversation id in provision response")
	}

	return &result, nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return "https://" + trimmed
	}
	return trimmed
}
