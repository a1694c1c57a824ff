package clients

import (
	"context"
	"encoding/json"

	"github.com/samber/mo"

	"agentpool/models"
)

// ComputeService describes a remote compute service managed by the
// orchestration provider.
type ComputeService struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ProjectID     string  `json:"projectId"`
	EnvironmentID string  `json:"environmentId"`
	URL           *string `json:"url"`
}

// ServiceStatus is one entry of a batched per-project status listing.
type ServiceStatus struct {
	ServiceID    string               `json:"serviceId"`
	DeployStatus *models.DeployStatus `json:"deployStatus"`
	URL          *string              `json:"url"`
}

// CreateServiceParams carries everything needed to create a service with its
// full environment set before the first deploy.
type CreateServiceParams struct {
	Name          string
	ProjectID     string
	EnvironmentID string
	Image         string
	Variables     map[string]string
}

// ComputeClient is the thin wrapper over the remote compute/orchestration API.
// No business logic lives here.
type ComputeClient interface {
	CreateService(ctx context.Context, params CreateServiceParams) (*ComputeService, error)
	DeleteService(ctx context.Context, serviceID string) error
	UpsertVariables(ctx context.Context, serviceID string, variables map[string]string) error
	RedeployService(ctx context.Context, serviceID string) error
	CreateDomain(ctx context.Context, serviceID string) (string, error)
	CreateVolume(ctx context.Context, serviceID, mountPath string) (string, error)
	DeleteVolumesForService(ctx context.Context, serviceID string) error
	GetProjectStatuses(ctx context.Context, projectID string) ([]ServiceStatus, error)
	ListServices(ctx context.Context) ([]ComputeService, error)
}

// HealthResult is the liveness probe outcome from an instance's own status endpoint.
type HealthResult struct {
	Ready bool `json:"ready"`
}

// ProvisionRequest binds a claimed instance to a conversation.
type ProvisionRequest struct {
	AgentName    string  `json:"agentName"`
	Instructions string  `json:"instructions"`
	JoinURL      *string `json:"joinUrl,omitempty"`
}

// ProvisionResult is the binding metadata returned by the instance runtime.
type ProvisionResult struct {
	AgentName      string  `json:"agentName"`
	ConversationID string  `json:"conversationId"`
	InviteURL      *string `json:"inviteUrl"`
}

// InstanceClient talks to a single instance's collaborator-facing endpoints.
type InstanceClient interface {
	CheckHealth(ctx context.Context, baseURL string) (*HealthResult, error)
	Provision(ctx context.Context, baseURL string, req ProvisionRequest) (*ProvisionResult, error)
}

// ProvisionedResource is what a resource provider hands back on create: the
// provider-side id for later teardown plus the env var injected into the
// instance runtime.
type ProvisionedResource struct {
	ResourceID   string
	EnvKey       string
	EnvValue     string
	ResourceMeta json.RawMessage
}

// LiveResource is one entry of a provider's live inventory, used by the
// orphan reconciliation pass.
type LiveResource struct {
	ResourceID string
	Name       string
}

// ResourceProvider provisions and destroys one kind of per-instance external
// resource. Implementations must be independently retryable: Create may be
// called again after a failure and Destroy must tolerate an already-deleted
// resource.
type ResourceProvider interface {
	Kind() models.ToolKind
	Create(ctx context.Context, instanceID string) (*ProvisionedResource, error)
	Destroy(ctx context.Context, resourceID string) (bool, error)
	ListLive(ctx context.Context) ([]LiveResource, error)
}

// NamedResourceLookup is implemented by providers whose resources are named
// deterministically from the instance id, enabling deletion when the store
// row is missing.
type NamedResourceLookup interface {
	FindResourceIDByInstanceID(ctx context.Context, instanceID string) (mo.Option[string], error)
}
