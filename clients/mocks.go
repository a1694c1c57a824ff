package clients

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"agentpool/models"
)

// MockComputeClient is a mock implementation of ComputeClient
type MockComputeClient struct {
	mock.Mock
}

func (m *MockComputeClient) CreateService(ctx context.Context, params CreateServiceParams) (*ComputeService, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ComputeService), args.Error(1)
}

func (m *MockComputeClient) DeleteService(ctx context.Context, serviceID string) error {
	args := m.Called(ctx, serviceID)
	return args.Error(0)
}

func (m *MockComputeClient) UpsertVariables(ctx context.Context, serviceID string, variables map[string]string) error {
	args := m.Called(ctx, serviceID, variables)
	return args.Error(0)
}

func (m *MockComputeClient) RedeployService(ctx context.Context, serviceID string) error {
	args := m.Called(ctx, serviceID)
	return args.Error(0)
}

func (m *MockComputeClient) CreateDomain(ctx context.Context, serviceID string) (string, error) {
	args := m.Called(ctx, serviceID)
	return args.String(0), args.Error(1)
}

func (m *MockComputeClient) CreateVolume(ctx context.Context, serviceID, mountPath string) (string, error) {
	args := m.Called(ctx, serviceID, mountPath)
	return args.String(0), args.Error(1)
}

func (m *MockComputeClient) DeleteVolumesForService(ctx context.Context, serviceID string) error {
	args := m.Called(ctx, serviceID)
	return args.Error(0)
}

func (m *MockComputeClient) GetProjectStatuses(ctx context.Context, projectID string) ([]ServiceStatus, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ServiceStatus), args.Error(1)
}

func (m *MockComputeClient) ListServices(ctx context.Context) ([]ComputeService, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ComputeService), args.Error(1)
}

// MockInstanceClient is a mock implementation of InstanceClient
type MockInstanceClient struct {
	mock.Mock
}

func (m *MockInstanceClient) CheckHealth(ctx context.Context, baseURL string) (*HealthResult, error) {
	args := m.Called(ctx, baseURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*HealthResult), args.Error(1)
}

func (m *MockInstanceClient) Provision(ctx context.Context, baseURL string, req ProvisionRequest) (*ProvisionResult, error) {
	args := m.Called(ctx, baseURL, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProvisionResult), args.Error(1)
}

// MockResourceProvider is a mock implementation of ResourceProvider
type MockResourceProvider struct {
	mock.Mock

	ProviderKind models.ToolKind
}

func (m *MockResourceProvider) Kind() models.ToolKind {
	return m.ProviderKind
}

func (m *MockResourceProvider) Create(ctx context.Context, instanceID string) (*ProvisionedResource, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProvisionedResource), args.Error(1)
}

func (m *MockResourceProvider) Destroy(ctx context.Context, resourceID string) (bool, error) {
	args := m.Called(ctx, resourceID)
	return args.Bool(0), args.Error(1)
}

func (m *MockResourceProvider) ListLive(ctx context.Context) ([]LiveResource, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LiveResource), args.Error(1)
}

// MockNamedResourceProvider is a MockResourceProvider that also supports
// lookup by deterministic instance name.
type MockNamedResourceProvider struct {
	MockResourceProvider
}

func (m *MockNamedResourceProvider) FindResourceIDByInstanceID(
	ctx context.Context,
	instanceID string,
) (mo.Option[string], error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).(mo.Option[string]), args.Error(1)
}
