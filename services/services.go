package services

import (
	"context"

	"github.com/samber/mo"

	"agentpool/clients"
	"agentpool/models"
)

// TransactionManager runs a function inside a database transaction, with
// support for nesting via the context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// InstancesService defines the interface for pool-visible instance state operations
type InstancesService interface {
	CreateStartingInstance(ctx context.Context, id string) (*models.Instance, error)
	GetInstanceByID(ctx context.Context, id string) (mo.Option[*models.Instance], error)
	GetAllInstances(ctx context.Context) ([]*models.Instance, error)
	GetInstancesByStatus(ctx context.Context, statuses ...models.PoolStatus) ([]*models.Instance, error)
	UpsertReconciledInstance(ctx context.Context, instance *models.Instance) error
	ClaimOldestIdleInstance(ctx context.Context) (mo.Option[*models.Instance], error)
	CompleteClaim(
		ctx context.Context,
		id string,
		agentName, conversationID, inviteURL, instructions *string,
	) (mo.Option[*models.Instance], error)
	ReleaseClaim(ctx context.Context, id string) (bool, error)
	UpdateInstanceStatus(ctx context.Context, id string, status models.PoolStatus) (bool, error)
	DeleteInstance(ctx context.Context, id string) (bool, error)
	GetPoolCounts(ctx context.Context) (*models.PoolCounts, error)
}

// DestroyResult reports per-step outcomes of one instance teardown. Partial
// failures stay visible here so the orphan pass can catch what was leaked.
type DestroyResult struct {
	InstanceID       string                   `json:"instanceId"`
	ResourcesDeleted map[models.ToolKind]bool `json:"resourcesDeleted"`
	ServiceDeleted   bool                     `json:"serviceDeleted"`
	RowsDeleted      bool                     `json:"rowsDeleted"`
}

// LifecycleService defines the interface for instance and resource lifecycle operations
type LifecycleService interface {
	CreateInstance(ctx context.Context, tools []models.ToolKind) (*models.Instance, error)
	DestroyInstance(ctx context.Context, instanceID string) (*DestroyResult, error)
	ProvisionResource(ctx context.Context, instanceID string, tool models.ToolKind) (*models.InstanceResource, error)
	DestroyResource(ctx context.Context, instanceID string, tool models.ToolKind, resourceID string) error
	ConfigureInstance(ctx context.Context, instanceID string, variables map[string]string) error
	RedeployInstance(ctx context.Context, instanceID string) error
	BatchStatuses(ctx context.Context) ([]clients.ServiceStatus, error)
}

// ClaimRequest carries the caller-supplied binding parameters for one claim.
type ClaimRequest struct {
	AgentName    string  `json:"agentName"`
	Instructions string  `json:"instructions"`
	JoinURL      *string `json:"joinUrl,omitempty"`
}

// PoolService defines the interface for reconciliation and claim operations
type PoolService interface {
	Tick(ctx context.Context)
	Claim(ctx context.Context, req ClaimRequest) (mo.Option[*models.Instance], error)
	Replenish(ctx context.Context, count int) (int, error)
	Drain(ctx context.Context, count int) (int, error)
	Kill(ctx context.Context, instanceID string) error
	DismissCrashed(ctx context.Context, instanceID string) error
}
