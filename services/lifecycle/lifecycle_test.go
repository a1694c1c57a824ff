package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentpool/clients"
	"agentpool/config"
	"agentpool/core"
	"agentpool/models"
	"agentpool/services"
)

const testInstanceID = "inst_01ARZ3NDEKTSV4RRFFQ69G5FAV"

// MockInfraRepository is a mock implementation of InfraRepository
type MockInfraRepository struct {
	mock.Mock
}

func (m *MockInfraRepository) CreateInstanceInfra(ctx context.Context, infra *models.InstanceInfra) error {
	args := m.Called(ctx, infra)
	return args.Error(0)
}

func (m *MockInfraRepository) GetInfraByInstanceID(
	ctx context.Context,
	instanceID string,
) (mo.Option[*models.InstanceInfra], error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).(mo.Option[*models.InstanceInfra]), args.Error(1)
}

func (m *MockInfraRepository) GetAllInfra(ctx context.Context) ([]*models.InstanceInfra, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.InstanceInfra), args.Error(1)
}

func (m *MockInfraRepository) UpdateDeployState(
	ctx context.Context,
	instanceID string,
	deployStatus *models.DeployStatus,
	url *string,
) (bool, error) {
	args := m.Called(ctx, instanceID, deployStatus, url)
	return args.Bool(0), args.Error(1)
}

func (m *MockInfraRepository) DeleteInfraByInstanceID(ctx context.Context, instanceID string) (bool, error) {
	args := m.Called(ctx, instanceID)
	return args.Bool(0), args.Error(1)
}

// MockResourcesRepository is a mock implementation of ResourcesRepository
type MockResourcesRepository struct {
	mock.Mock
}

func (m *MockResourcesRepository) CreateInstanceResource(ctx context.Context, resource *models.InstanceResource) error {
	args := m.Called(ctx, resource)
	return args.Error(0)
}

func (m *MockResourcesRepository) GetResourcesByInstanceID(
	ctx context.Context,
	instanceID string,
) ([]*models.InstanceResource, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.InstanceResource), args.Error(1)
}

func (m *MockResourcesRepository) GetResourceByInstanceAndTool(
	ctx context.Context,
	instanceID string,
	toolID models.ToolKind,
) (mo.Option[*models.InstanceResource], error) {
	args := m.Called(ctx, instanceID, toolID)
	return args.Get(0).(mo.Option[*models.InstanceResource]), args.Error(1)
}

func (m *MockResourcesRepository) DeleteResource(
	ctx context.Context,
	instanceID string,
	toolID models.ToolKind,
	resourceID string,
) (bool, error) {
	args := m.Called(ctx, instanceID, toolID, resourceID)
	return args.Bool(0), args.Error(1)
}

type lifecycleFixture struct {
	instancesService *services.MockInstancesService
	infraRepo        *MockInfraRepository
	resourcesRepo    *MockResourcesRepository
	computeClient    *clients.MockComputeClient
	service          *LifecycleService
}

func newLifecycleFixture(providers ProviderRegistry) *lifecycleFixture {
	f := &lifecycleFixture{
		instancesService: &services.MockInstancesService{},
		infraRepo:        &MockInfraRepository{},
		resourcesRepo:    &MockResourcesRepository{},
		computeClient:    &clients.MockComputeClient{},
	}
	f.service = NewLifecycleService(
		f.instancesService,
		f.infraRepo,
		f.resourcesRepo,
		f.computeClient,
		providers,
		&services.MockTransactionManager{},
		nil,
		config.ComputeConfig{
			APIToken:      "test-token",
			ProjectIDs:    []string{"proj-1"},
			EnvironmentID: "env-1",
		},
		"ghcr.io/acme/agent-runtime:latest",
		"",
	)
	return f
}

func newCredentialProvider() *clients.MockResourceProvider {
	return &clients.MockResourceProvider{ProviderKind: models.ToolKindCredential}
}

func TestCreateInstance(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesResourceEnvVarsBeforeDeploy", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Create", ctx, mock.AnythingOfType("string")).
			Return(&clients.ProvisionedResource{
				ResourceID: "key-1",
				EnvKey:     "ANTHROPIC_API_KEY",
				EnvValue:   "sk-ant-test",
			}, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.instancesService.On("CreateStartingInstance", ctx, mock.AnythingOfType("string")).
			Return(&models.Instance{
				ID:     testInstanceID,
				Name:   core.InstanceName(testInstanceID),
				Status: models.PoolStatusStarting,
			}, nil)
		f.computeClient.On("CreateService", ctx, mock.MatchedBy(func(params clients.CreateServiceParams) bool {
			return params.ProjectID == "proj-1" &&
				params.EnvironmentID == "env-1" &&
				params.Image == "ghcr.io/acme/agent-runtime:latest" &&
				params.Variables["ANTHROPIC_API_KEY"] == "sk-ant-test" &&
				params.Variables["AGENT_ID"] != "" &&
				strings.HasPrefix(params.Variables["GATEWAY_TOKEN"], "gwt_") &&
				strings.HasPrefix(params.Variables["SETUP_PASSWORD"], "stp_") &&
				strings.HasPrefix(params.Variables["WALLET_KEY"], "wlt_")
		})).Return(&clients.ComputeService{
			ID:        "svc-1",
			Name:      core.InstanceName(testInstanceID),
			ProjectID: "proj-1",
		}, nil)
		f.computeClient.On("CreateVolume", ctx, "svc-1", "/data").Return("vol-1", nil)
		f.computeClient.On("CreateDomain", ctx, "svc-1").Return("agent-x.example.com", nil)
		f.infraRepo.On("CreateInstanceInfra", mock.Anything, mock.MatchedBy(func(infra *models.InstanceInfra) bool {
			return infra.ProviderServiceID == "svc-1" &&
				infra.URL != nil && *infra.URL == "agent-x.example.com"
		})).Return(nil)
		f.resourcesRepo.On("CreateInstanceResource", mock.Anything, mock.MatchedBy(func(r *models.InstanceResource) bool {
			return r.ToolID == models.ToolKindCredential && r.ResourceID == "key-1"
		})).Return(nil)
		f.instancesService.On("UpsertReconciledInstance", ctx, mock.Anything).Return(nil)

		instance, err := f.service.CreateInstance(ctx, models.AllToolKinds)

		require.NoError(t, err)
		require.NotNil(t, instance.URL)
		assert.Equal(t, "agent-x.example.com", *instance.URL)
		// Unconfigured kinds are skipped, so only the credential provider runs
		provider.AssertNumberOfCalls(t, "Create", 1)
		f.computeClient.AssertExpectations(t)
		f.infraRepo.AssertExpectations(t)
		f.resourcesRepo.AssertExpectations(t)
	})

	t.Run("UnconfiguredComputeRejectedBeforeAnyRow", func(t *testing.T) {
		f := newLifecycleFixture(ProviderRegistry{})
		f.service.computeConfig.ProjectIDs = nil

		require.NotPanics(t, func() {
			_, err := f.service.CreateInstance(ctx, models.AllToolKinds)
			require.Error(t, err)
		})
		f.instancesService.AssertNotCalled(t, "CreateStartingInstance", ctx, mock.AnythingOfType("string"))
	})

	t.Run("ResourceFailureAbandonsInstance", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Create", ctx, mock.AnythingOfType("string")).
			Return(nil, fmt.Errorf("workspace quota exceeded"))
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.instancesService.On("CreateStartingInstance", ctx, mock.AnythingOfType("string")).
			Return(&models.Instance{ID: testInstanceID, Status: models.PoolStatusStarting}, nil)
		f.instancesService.On("DeleteInstance", ctx, mock.AnythingOfType("string")).
			Return(true, nil)

		_, err := f.service.CreateInstance(ctx, []models.ToolKind{models.ToolKindCredential})

		require.Error(t, err)
		f.instancesService.AssertCalled(t, "DeleteInstance", ctx, mock.AnythingOfType("string"))
		f.computeClient.AssertNotCalled(t, "CreateService", mock.Anything, mock.Anything)
	})

	t.Run("PersistFailureRollsBackService", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Create", ctx, mock.AnythingOfType("string")).
			Return(&clients.ProvisionedResource{
				ResourceID: "key-1",
				EnvKey:     "ANTHROPIC_API_KEY",
				EnvValue:   "sk-ant-test",
			}, nil)
		provider.On("Destroy", ctx, "key-1").Return(true, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.instancesService.On("CreateStartingInstance", ctx, mock.AnythingOfType("string")).
			Return(&models.Instance{ID: testInstanceID, Status: models.PoolStatusStarting}, nil)
		f.computeClient.On("CreateService", ctx, mock.Anything).
			Return(&clients.ComputeService{ID: "svc-1", ProjectID: "proj-1"}, nil)
		f.computeClient.On("CreateVolume", ctx, "svc-1", "/data").Return("vol-1", nil)
		f.computeClient.On("CreateDomain", ctx, "svc-1").Return("agent-x.example.com", nil)
		f.infraRepo.On("CreateInstanceInfra", mock.Anything, mock.Anything).
			Return(fmt.Errorf("connection reset"))
		f.computeClient.On("DeleteService", ctx, "svc-1").Return(nil)
		f.instancesService.On("DeleteInstance", ctx, mock.AnythingOfType("string")).
			Return(true, nil)

		_, err := f.service.CreateInstance(ctx, []models.ToolKind{models.ToolKindCredential})

		require.Error(t, err)
		f.computeClient.AssertCalled(t, "DeleteService", ctx, "svc-1")
		provider.AssertCalled(t, "Destroy", ctx, "key-1")
		f.instancesService.AssertCalled(t, "DeleteInstance", ctx, mock.AnythingOfType("string"))
	})
}

func TestDestroyInstance(t *testing.T) {
	ctx := context.Background()

	credentialResource := func() *models.InstanceResource {
		return &models.InstanceResource{
			ID:         "res_01ARZ3NDEKTSV4RRFFQ69G5FAV",
			InstanceID: testInstanceID,
			ToolID:     models.ToolKindCredential,
			ResourceID: "key-1",
			Status:     models.ResourceStatusActive,
		}
	}

	t.Run("TearsDownEverything", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Destroy", ctx, "key-1").Return(true, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.Some(&models.InstanceInfra{
				InstanceID:        testInstanceID,
				ProviderServiceID: "svc-1",
			}), nil)
		f.resourcesRepo.On("GetResourcesByInstanceID", ctx, testInstanceID).
			Return([]*models.InstanceResource{credentialResource()}, nil)
		f.resourcesRepo.On("DeleteResource", ctx, testInstanceID, models.ToolKindCredential, "key-1").
			Return(true, nil)
		f.computeClient.On("DeleteVolumesForService", ctx, "svc-1").Return(nil)
		f.computeClient.On("DeleteService", ctx, "svc-1").Return(nil)
		f.infraRepo.On("DeleteInfraByInstanceID", mock.Anything, testInstanceID).Return(true, nil)
		f.instancesService.On("DeleteInstance", mock.Anything, testInstanceID).Return(true, nil)

		result, err := f.service.DestroyInstance(ctx, testInstanceID)

		require.NoError(t, err)
		assert.True(t, result.ServiceDeleted)
		assert.True(t, result.RowsDeleted)
		assert.True(t, result.ResourcesDeleted[models.ToolKindCredential])
		f.computeClient.AssertExpectations(t)
	})

	t.Run("ResourceFailureDoesNotBlockService", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Destroy", ctx, "key-1").Return(false, fmt.Errorf("upstream 500"))
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.Some(&models.InstanceInfra{
				InstanceID:        testInstanceID,
				ProviderServiceID: "svc-1",
			}), nil)
		f.resourcesRepo.On("GetResourcesByInstanceID", ctx, testInstanceID).
			Return([]*models.InstanceResource{credentialResource()}, nil)
		f.computeClient.On("DeleteVolumesForService", ctx, "svc-1").Return(nil)
		f.computeClient.On("DeleteService", ctx, "svc-1").Return(nil)
		f.infraRepo.On("DeleteInfraByInstanceID", mock.Anything, testInstanceID).Return(true, nil)
		f.instancesService.On("DeleteInstance", mock.Anything, testInstanceID).Return(true, nil)

		result, err := f.service.DestroyInstance(ctx, testInstanceID)

		require.NoError(t, err)
		assert.True(t, result.ServiceDeleted)
		assert.False(t, result.ResourcesDeleted[models.ToolKindCredential])
		// The row survives so the orphan pass can retry the delete
		f.resourcesRepo.AssertNotCalled(t, "DeleteResource",
			ctx, testInstanceID, models.ToolKindCredential, "key-1")
	})

	t.Run("AlreadyGoneResourceCountsAsDeleted", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Destroy", ctx, "key-1").Return(false, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.Some(&models.InstanceInfra{
				InstanceID:        testInstanceID,
				ProviderServiceID: "svc-1",
			}), nil)
		f.resourcesRepo.On("GetResourcesByInstanceID", ctx, testInstanceID).
			Return([]*models.InstanceResource{credentialResource()}, nil)
		f.resourcesRepo.On("DeleteResource", ctx, testInstanceID, models.ToolKindCredential, "key-1").
			Return(true, nil)
		f.computeClient.On("DeleteVolumesForService", ctx, "svc-1").Return(nil)
		f.computeClient.On("DeleteService", ctx, "svc-1").Return(nil)
		f.infraRepo.On("DeleteInfraByInstanceID", mock.Anything, testInstanceID).Return(true, nil)
		f.instancesService.On("DeleteInstance", mock.Anything, testInstanceID).Return(true, nil)

		result, err := f.service.DestroyInstance(ctx, testInstanceID)

		require.NoError(t, err)
		assert.True(t, result.ResourcesDeleted[models.ToolKindCredential])
		f.resourcesRepo.AssertCalled(t, "DeleteResource",
			ctx, testInstanceID, models.ToolKindCredential, "key-1")
	})

	t.Run("UntrackedInstanceFoundByName", func(t *testing.T) {
		provider := &clients.MockNamedResourceProvider{}
		provider.ProviderKind = models.ToolKindCredential
		provider.On("FindResourceIDByInstanceID", ctx, testInstanceID).
			Return(mo.Some("key-9"), nil)
		provider.On("Destroy", ctx, "key-9").Return(true, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.None[*models.InstanceInfra](), nil)
		f.resourcesRepo.On("GetResourcesByInstanceID", ctx, testInstanceID).
			Return([]*models.InstanceResource{}, nil)
		f.computeClient.On("ListServices", ctx).Return([]clients.ComputeService{
			{ID: "svc-9", Name: core.InstanceName(testInstanceID)},
			{ID: "svc-other", Name: "agent-inst-unrelated"},
		}, nil)
		f.computeClient.On("DeleteVolumesForService", ctx, "svc-9").Return(nil)
		f.computeClient.On("DeleteService", ctx, "svc-9").Return(nil)
		f.instancesService.On("DeleteInstance", ctx, testInstanceID).Return(true, nil)

		result, err := f.service.DestroyInstance(ctx, testInstanceID)

		require.NoError(t, err)
		assert.True(t, result.ServiceDeleted)
		assert.True(t, result.RowsDeleted)
		assert.True(t, result.ResourcesDeleted[models.ToolKindCredential])
		f.computeClient.AssertNotCalled(t, "DeleteService", ctx, "svc-other")
	})

	t.Run("InvalidIDRejected", func(t *testing.T) {
		f := newLifecycleFixture(ProviderRegistry{})

		_, err := f.service.DestroyInstance(ctx, "not-a-ulid")

		require.Error(t, err)
	})
}

func TestProvisionResource(t *testing.T) {
	ctx := context.Background()

	t.Run("IdempotentWhenResourceExists", func(t *testing.T) {
		provider := newCredentialProvider()
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		existing := &models.InstanceResource{
			ID:         "res_01ARZ3NDEKTSV4RRFFQ69G5FAV",
			InstanceID: testInstanceID,
			ToolID:     models.ToolKindCredential,
			ResourceID: "key-1",
		}
		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.Some(&models.InstanceInfra{
				InstanceID:        testInstanceID,
				ProviderServiceID: "svc-1",
			}), nil)
		f.resourcesRepo.On("GetResourceByInstanceAndTool", ctx, testInstanceID, models.ToolKindCredential).
			Return(mo.Some(existing), nil)

		resource, err := f.service.ProvisionResource(ctx, testInstanceID, models.ToolKindCredential)

		require.NoError(t, err)
		assert.Equal(t, existing, resource)
		provider.AssertNotCalled(t, "Create", ctx, testInstanceID)
	})

	t.Run("PushesEnvVarAndRedeploys", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Create", ctx, testInstanceID).
			Return(&clients.ProvisionedResource{
				ResourceID: "key-2",
				EnvKey:     "ANTHROPIC_API_KEY",
				EnvValue:   "sk-ant-new",
			}, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.infraRepo.On("GetInfraByInstanceID", ctx, testInstanceID).
			Return(mo.Some(&models.InstanceInfra{
				InstanceID:        testInstanceID,
				ProviderServiceID: "svc-1",
			}), nil)
		f.resourcesRepo.On("GetResourceByInstanceAndTool", ctx, testInstanceID, models.ToolKindCredential).
			Return(mo.None[*models.InstanceResource](), nil)
		f.resourcesRepo.On("CreateInstanceResource", ctx, mock.MatchedBy(func(r *models.InstanceResource) bool {
			return r.ResourceID == "key-2" && r.Status == models.ResourceStatusActive
		})).Return(nil)
		f.computeClient.On("UpsertVariables", ctx, "svc-1", map[string]string{
			"ANTHROPIC_API_KEY": "sk-ant-new",
		}).Return(nil)
		f.computeClient.On("RedeployService", ctx, "svc-1").Return(nil)

		resource, err := f.service.ProvisionResource(ctx, testInstanceID, models.ToolKindCredential)

		require.NoError(t, err)
		assert.Equal(t, "key-2", resource.ResourceID)
		f.computeClient.AssertExpectations(t)
	})

	t.Run("NoProviderConfigured", func(t *testing.T) {
		f := newLifecycleFixture(ProviderRegistry{})

		_, err := f.service.ProvisionResource(ctx, testInstanceID, models.ToolKindPhone)

		require.Error(t, err)
	})
}

func TestDestroyResource(t *testing.T) {
	ctx := context.Background()

	t.Run("MismatchedResourceIDNotFound", func(t *testing.T) {
		provider := newCredentialProvider()
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.resourcesRepo.On("GetResourceByInstanceAndTool", ctx, testInstanceID, models.ToolKindCredential).
			Return(mo.Some(&models.InstanceResource{
				InstanceID: testInstanceID,
				ToolID:     models.ToolKindCredential,
				ResourceID: "key-1",
			}), nil)

		err := f.service.DestroyResource(ctx, testInstanceID, models.ToolKindCredential, "key-other")

		require.ErrorIs(t, err, core.ErrNotFound)
		provider.AssertNotCalled(t, "Destroy", ctx, "key-other")
	})

	t.Run("DestroysAndDeletesRow", func(t *testing.T) {
		provider := newCredentialProvider()
		provider.On("Destroy", ctx, "key-1").Return(true, nil)
		f := newLifecycleFixture(ProviderRegistry{models.ToolKindCredential: provider})

		f.resourcesRepo.On("GetResourceByInstanceAndTool", ctx, testInstanceID, models.ToolKindCredential).
			Return(mo.Some(&models.InstanceResource{
				InstanceID: testInstanceID,
				ToolID:     models.ToolKindCredential,
				ResourceID: "key-1",
			}), nil)
		f.resourcesRepo.On("DeleteResource", ctx, testInstanceID, models.ToolKindCredential, "key-1").
			Return(true, nil)

		err := f.service.DestroyResource(ctx, testInstanceID, models.ToolKindCredential, "key-1")

		require.NoError(t, err)
		f.resourcesRepo.AssertExpectations(t)
	})
}

func TestBatchStatuses(t *testing.T) {
	ctx := context.Background()

	t.Run("AggregatesAcrossProjects", func(t *testing.T) {
		f := newLifecycleFixture(ProviderRegistry{})
		f.service.computeConfig.ProjectIDs = []string{"proj-1", "proj-2"}

		success := models.DeployStatusSuccess
		f.computeClient.On("GetProjectStatuses", ctx, "proj-1").
			Return([]clients.ServiceStatus{{ServiceID: "svc-1", DeployStatus: &success}}, nil)
		f.computeClient.On("GetProjectStatuses", ctx, "proj-2").
			Return([]clients.ServiceStatus{{ServiceID: "svc-2", DeployStatus: &success}}, nil)

		statuses, err := f.service.BatchStatuses(ctx)

		require.NoError(t, err)
		require.Len(t, statuses, 2)
		assert.Equal(t, "svc-1", statuses[0].ServiceID)
		assert.Equal(t, "svc-2", statuses[1].ServiceID)
	})

	t.Run("ProjectFailurePropagates", func(t *testing.T) {
		f := newLifecycleFixture(ProviderRegistry{})

		f.computeClient.On("GetProjectStatuses", ctx, "proj-1").
			Return(nil, fmt.Errorf("rate limited"))

		_, err := f.service.BatchStatuses(ctx)

		require.Error(t, err)
	})
}
