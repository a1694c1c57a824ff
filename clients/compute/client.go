package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"agentpool/clients"
	"agentpool/core"
)

// ComputeClient implements the clients.ComputeClient interface against the
// orchestration provider's REST API.
type ComputeClient struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewComputeClient creates a new compute provider client
func NewComputeClient(baseURL, apiToken string) clients.ComputeClient {
	return &ComputeClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		apiToken:   apiToken,
	}
}

type createServiceRequest struct {
	Name          string            `json:"name"`
	ProjectID     string            `json:"projectId"`
	EnvironmentID string            `json:"environmentId"`
	Image         string            `json:"image"`
	Variables     map[string]string `json:"variables"`
}

type createDomainResponse struct {
	Domain string `json:"domain"`
}

type createVolumeRequest struct {
	ServiceID string `json:"serviceId"`
	MountPath string `json:"mountPath"`
}

type createVolumeResponse struct {
	VolumeID string `json:"volumeId"`
}

type projectStatusesResponse struct {
	Services []clients.ServiceStatus `json:"services"`
}

type listServicesResponse struct {
	Services []clients.ComputeService `json:"services"`
}

// CreateService creates the remote service with all variables set before the
// first deploy, avoiding a redeploy round-trip.
func (c *ComputeClient) CreateService(
	ctx context.Context,
	params clients.CreateServiceParams,
) (*clients.ComputeService, error) {
	reqBody := createServiceRequest{
		Name:          params.Name,
		ProjectID:     params.ProjectID,
		EnvironmentID: params.EnvironmentID,
		Image:         params.Image,
		Variables:     params.Variables,
	}

	var service clients.ComputeService
	if err := c.doJSON(ctx, http.MethodPost, "/services", reqBody, &service); err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	if service.ID == "" {
		return nil, fmt.Errorf("no service id in create response")
	}

	return &service, nil
}

// DeleteService deletes the remote service. A 404 means it is already gone
// and is treated as success.
func (c *ComputeClient) DeleteService(ctx context.Context, serviceID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/services/"+serviceID, nil, nil)
	if err != nil && !core.IsNotFoundError(err) {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

func (c *ComputeClient) UpsertVariables(
	ctx context.Context,
	serviceID string,
	variables map[string]string,
) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/services/"+serviceID+"/variables", variables, nil); err != nil {
		return fmt.Errorf("failed to upsert variables: %w", err)
	}
	return nil
}

func (c *ComputeClient) RedeployService(ctx context.Context, serviceID string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/services/"+serviceID+"/redeploy", nil, nil); err != nil {
		return fmt.Errorf("failed to redeploy service: %w", err)
	}
	return nil
}

func (c *ComputeClient) CreateDomain(ctx context.Context, serviceID string) (string, error) {
	var resp createDomainResponse
	if err := c.doJSON(ctx, http.MethodPost, "/services/"+serviceID+"/domains", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to create domain: %w", err)
	}
	if resp.Domain == "" {
		return "", fmt.Errorf("no domain in response")
	}
	return resp.Domain, nil
}

func (c *ComputeClient) CreateVolume(ctx context.Context, serviceID, mountPath string) (string, error) {
	reqBody := createVolumeRequest{ServiceID: serviceID, MountPath: mountPath}

	var resp createVolumeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/volumes", reqBody, &resp); err != nil {
		return "", fmt.Errorf("failed to create volume: %w", err)
	}
	if resp.VolumeID == "" {
		return "", fmt.Errorf("no volume id in response")
	}
	return resp.VolumeID, nil
}

func (c *ComputeClient) DeleteVolumesForService(ctx context.Context, serviceID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/services/"+serviceID+"/volumes", nil, nil)
	if err != nil && !core.IsNotFoundError(err) {
		return fmt.Errorf("failed to delete volumes: %w", err)
	}
	return nil
}

// GetProjectStatuses fetches deploy statuses for every service in a project
// in a single batched call.
func (c *ComputeClient) GetProjectStatuses(
	ctx context.Context,
	projectID string,
) ([]clients.ServiceStatus, error) {
	var resp projectStatusesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/projects/"+projectID+"/statuses", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get project statuses: %w", err)
	}
	return resp.Services, nil
}

func (c *ComputeClient) ListServices(ctx context.Context) ([]clients.ComputeService, error) {
	var resp listServicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/services", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return resp.Services, nil
}

// doJSON issues one authenticated JSON request. Mutating calls carry an
// idempotency key so the provider deduplicates retried creates.
func (c *ComputeClient) doJSON(ctx context.Context, method, path string, body, out any) error {
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
	if method != http.MethodGet {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

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
