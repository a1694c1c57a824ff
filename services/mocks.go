package services

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"agentpool/clients"
	"agentpool/models"
)

// MockTransactionManager runs the function directly without a database.
type MockTransactionManager struct{}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// MockInstancesService is a mock implementation of InstancesService
type MockInstancesService struct {
	mock.Mock
}

func (m *MockInstancesService) CreateStartingInstance(ctx context.Context, id string) (*models.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Instance), args.Error(1)
}

func (m *MockInstancesService) GetInstanceByID(ctx context.Context, id string) (mo.Option[*models.Instance], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.Instance]), args.Error(1)
}

func (m *MockInstancesService) GetAllInstances(ctx context.Context) ([]*models.Instance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Instance), args.Error(1)
}

func (m *MockInstancesService) GetInstancesByStatus(
	ctx context.Context,
	statuses ...models.PoolStatus,
) ([]*models.Instance, error) {
	callArgs := make([]any, 0, len(statuses)+1)
	callArgs = append(callArgs, ctx)
	for _, s := range statuses {
		callArgs = append(callArgs, s)
	}
	args := m.Called(callArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Instance), args.Error(1)
}

func (m *MockInstancesService) UpsertReconciledInstance(ctx context.Context, instance *models.Instance) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockInstancesService) ClaimOldestIdleInstance(ctx context.Context) (mo.Option[*models.Instance], error) {
	args := m.Called(ctx)
	return args.Get(0).(mo.Option[*models.Instance]), args.Error(1)
}

func (m *MockInstancesService) CompleteClaim(
	ctx context.Context,
	id string,
	agentName, conversationID, inviteURL, instructions *string,
) (mo.Option[*models.Instance], error) {
	args := m.Called(ctx, id, agentName, conversationID, inviteURL, instructions)
	return args.Get(0).(mo.Option[*models.Instance]), args.Error(1)
}

func (m *MockInstancesService) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstancesService) UpdateInstanceStatus(
	ctx context.Context,
	id string,
	status models.PoolStatus,
) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstancesService) DeleteInstance(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstancesService) GetPoolCounts(ctx context.Context) (*models.PoolCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PoolCounts), args.Error(1)
}

// MockLifecycleService is a mock implementation of LifecycleService
type MockLifecycleService struct {
	mock.Mock
}

func (m *MockLifecycleService) CreateInstance(ctx context.Context, tools []models.ToolKind) (*models.Instance, error) {
	args := m.Called(ctx, tools)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Instance), args.Error(1)
}

func (m *MockLifecycleService) DestroyInstance(ctx context.Context, instanceID string) (*DestroyResult, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DestroyResult), args.Error(1)
}

func (m *MockLifecycleService) ProvisionResource(
	ctx context.Context,
	instanceID string,
	tool models.ToolKind,
) (*models.InstanceResource, error) {
	args := m.Called(ctx, instanceID, tool)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InstanceResource), args.Error(1)
}

func (m *MockLifecycleService) DestroyResource(
	ctx context.Context,
	instanceID string,
	tool models.ToolKind,
	resourceID string,
) error {
	args := m.Called(ctx, instanceID, tool, resourceID)
	return args.Error(0)
}

func (m *MockLifecycleService) ConfigureInstance(
	ctx context.Context,
	instanceID string,
	variables map[string]string,
) error {
	args := m.Called(ctx, instanceID, variables)
	return args.Error(0)
}

func (m *MockLifecycleService) RedeployInstance(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *MockLifecycleService) BatchStatuses(ctx context.Context) ([]clients.ServiceStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]clients.ServiceStatus), args.Error(1)
}

// MockPoolService is a mock implementation of PoolService
type MockPoolService struct {
	mock.Mock
}

func (m *MockPoolService) Tick(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockPoolService) Claim(ctx context.Context, req ClaimRequest) (mo.Option[*models.Instance], error) {
	args := m.Called(ctx, req)
	return args.Get(0).(mo.Option[*models.Instance]), args.Error(1)
}

func (m *MockPoolService) Replenish(ctx context.Context, count int) (int, error) {
	args := m.Called(ctx, count)
	return args.Int(0), args.Error(1)
}

func (m *MockPoolService) Drain(ctx context.Context, count int) (int, error) {
	args := m.Called(ctx, count)
	return args.Int(0), args.Error(1)
}

func (m *MockPoolService) Kill(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *MockPoolService) DismissCrashed(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}
