package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/samber/mo"

	"agentpool/clients"
	"agentpool/config"
	"agentpool/core"
	"agentpool/metrics"
	"agentpool/models"
	"agentpool/services"
)

const (
	volumeMountPath       = "/data"
	deleteServiceAttempts = 3
	deleteServiceBackoff  = 2 * time.Second
)

// ProviderRegistry dispatches resource operations by kind. Built once at
// startup from whichever providers are configured; kinds without an entry are
// skipped during create and logged during destroy.
type ProviderRegistry map[models.ToolKind]clients.ResourceProvider

// InfraRepository is the subset of the infra store the lifecycle manager
// needs. Satisfied by db.PostgresInfraRepository.
type InfraRepository interface {
	CreateInstanceInfra(ctx context.Context, infra *models.InstanceInfra) error
	GetInfraByInstanceID(ctx context.Context, instanceID string) (mo.Option[*models.InstanceInfra], error)
	GetAllInfra(ctx context.Context) ([]*models.InstanceInfra, error)
	UpdateDeployState(ctx context.Context, instanceID string, deployStatus *models.DeployStatus, url *string) (bool, error)
	DeleteInfraByInstanceID(ctx context.Context, instanceID string) (bool, error)
}

// ResourcesRepository is the subset of the resource store the lifecycle
// manager needs. Satisfied by db.PostgresResourcesRepository.
type ResourcesRepository interface {
	CreateInstanceResource(ctx context.Context, resource *models.InstanceResource) error
	GetResourcesByInstanceID(ctx context.Context, instanceID string) ([]*models.InstanceResource, error)
	GetResourceByInstanceAndTool(
		ctx context.Context,
		instanceID string,
		toolID models.ToolKind,
	) (mo.Option[*models.InstanceResource], error)
	DeleteResource(ctx context.Context, instanceID string, toolID models.ToolKind, resourceID string) (bool, error)
}

// LifecycleService orchestrates create-all/destroy-all across the compute
// provider and the resource providers for one instance at a time.
type LifecycleService struct {
	instancesService services.InstancesService
	infraRepo        InfraRepository
	resourcesRepo    ResourcesRepository
	computeClient    clients.ComputeClient
	providers        ProviderRegistry
	txManager        services.TransactionManager
	metrics          *metrics.Metrics
	computeConfig    config.ComputeConfig
	runtimeImage     string
	serverLogsURL    string

	projectCursor atomic.Uint64
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	instancesService services.InstancesService,
	infraRepo InfraRepository,
	resourcesRepo ResourcesRepository,
	computeClient clients.ComputeClient,
	providers ProviderRegistry,
	txManager services.TransactionManager,
	m *metrics.Metrics,
	computeConfig config.ComputeConfig,
	runtimeImage, serverLogsURL string,
) *LifecycleService {
	return &LifecycleService{
		instancesService: instancesService,
		infraRepo:        infraRepo,
		resourcesRepo:    resourcesRepo,
		computeClient:    computeClient,
		providers:        providers,
		txManager:        txManager,
		metrics:          m,
		computeConfig:    computeConfig,
		runtimeImage:     runtimeImage,
		serverLogsURL:    serverLogsURL,
	}
}

// CreateInstance provisions a full instance: local secrets, one resource per
// requested tool kind, then the remote compute service with every env var set
// before the first deploy so no redeploy round-trip is needed.
func (s *LifecycleService) CreateInstance(
	ctx context.Context,
	tools []models.ToolKind,
) (*models.Instance, error) {
	if !s.computeConfig.IsConfigured() {
		return nil, fmt.Errorf("compute provider not configured")
	}

	instanceID := core.NewID("inst")
	log.Printf("📋 Starting to create instance: %s", instanceID)

	instance, err := s.instancesService.CreateStartingInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance row: %w", err)
	}

	variables, err := s.generateSecrets(instanceID)
	if err != nil {
		s.abandonInstance(ctx, instanceID, nil)
		return nil, err
	}

	provisioned, err := s.createResources(ctx, instanceID, tools, variables)
	if err != nil {
		s.abandonInstance(ctx, instanceID, provisioned)
		return nil, err
	}

	service, err := s.computeClient.CreateService(ctx, clients.CreateServiceParams{
		Name:          instance.Name,
		ProjectID:     s.nextProjectID(),
		EnvironmentID: s.computeConfig.EnvironmentID,
		Image:         s.runtimeImage,
		Variables:     variables,
	})
	if err != nil {
		s.abandonInstance(ctx, instanceID, provisioned)
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	// Volume and domain are best-effort: an instance without them still boots
	if _, err := s.computeClient.CreateVolume(ctx, service.ID, volumeMountPath); err != nil {
		log.Printf("⚠️ Failed to create volume for instance %s: %v", instanceID, err)
	}

	url := service.URL
	if domain, err := s.computeClient.CreateDomain(ctx, service.ID); err != nil {
		log.Printf("⚠️ Failed to create domain for instance %s: %v", instanceID, err)
	} else {
		url = &domain
	}

	infra := &models.InstanceInfra{
		InstanceID:        instanceID,
		ProviderServiceID: service.ID,
		ProviderEnvID:     s.computeConfig.EnvironmentID,
		ProviderProjectID: service.ProjectID,
		RuntimeImage:      s.runtimeImage,
		URL:               url,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.infraRepo.CreateInstanceInfra(txCtx, infra); err != nil {
			return err
		}
		for _, resource := range provisioned {
			record := &models.InstanceResource{
				ID:           core.NewID("res"),
				InstanceID:   instanceID,
				ToolID:       resource.kind,
				ResourceID:   resource.provisioned.ResourceID,
				EnvKey:       resource.provisioned.EnvKey,
				EnvValue:     resource.provisioned.EnvValue,
				ResourceMeta: resource.provisioned.ResourceMeta,
				Status:       models.ResourceStatusActive,
			}
			if err := s.resourcesRepo.CreateInstanceResource(txCtx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Rows failed but remote resources exist; tear down what we made so
		// nothing billable is left dangling
		log.Printf("❌ Failed to persist infra rows for instance %s, rolling back provider resources: %v",
			instanceID, err)
		if deleteErr := s.computeClient.DeleteService(ctx, service.ID); deleteErr != nil {
			log.Printf("⚠️ Rollback service delete failed for %s: %v", instanceID, deleteErr)
		}
		s.abandonInstance(ctx, instanceID, provisioned)
		return nil, fmt.Errorf("failed to persist infra rows: %w", err)
	}

	if url != nil {
		instance.URL = url
		if err := s.instancesService.UpsertReconciledInstance(ctx, instance); err != nil {
			log.Printf("⚠️ Failed to record url for instance %s: %v", instanceID, err)
		}
	}

	log.Printf("📋 Completed successfully - created instance %s (service %s)", instanceID, service.ID)
	return instance, nil
}

type createdResource struct {
	kind        models.ToolKind
	provisioned *clients.ProvisionedResource
}

// createResources calls each configured provider in kind order, merging env
// vars into variables as it goes.
func (s *LifecycleService) createResources(
	ctx context.Context,
	instanceID string,
	tools []models.ToolKind,
	variables map[string]string,
) ([]createdResource, error) {
	var created []createdResource

	for _, kind := range tools {
		provider, ok := s.providers[kind]
		if !ok {
			log.Printf("⚠️ No provider configured for tool kind %s, skipping", kind)
			continue
		}

		resource, err := provider.Create(ctx, instanceID)
		if err != nil {
			s.metrics.RecordProviderCall(string(kind), "create", "error")
			return created, fmt.Errorf("failed to create %s resource: %w", kind, err)
		}
		s.metrics.RecordProviderCall(string(kind), "create", "ok")

		variables[resource.EnvKey] = resource.EnvValue
		created = append(created, createdResource{kind: kind, provisioned: resource})
	}

	return created, nil
}

// generateSecrets builds the base runtime environment. All values are locally
// generated random material; no external call is needed.
func (s *LifecycleService) generateSecrets(instanceID string) (map[string]string, error) {
	gatewayToken, err := core.NewSecretKey("gwt")
	if err != nil {
		return nil, fmt.Errorf("failed to generate gateway token: %w", err)
	}
	setupPassword, err := core.NewSecretKey("stp")
	if err != nil {
		return nil, fmt.Errorf("failed to generate setup password: %w", err)
	}
	walletKey, err := core.NewSecretKey("wlt")
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet key: %w", err)
	}

	variables := map[string]string{
		"AGENT_ID":       instanceID,
		"AGENT_NAME":     core.InstanceName(instanceID),
		"GATEWAY_TOKEN":  gatewayToken,
		"SETUP_PASSWORD": setupPassword,
		"WALLET_KEY":     walletKey,
	}
	if s.serverLogsURL != "" {
		variables["SERVER_LOGS_URL"] = s.serverLogsURL
	}

	return variables, nil
}

// abandonInstance is the create-path rollback: destroy any resources already
// provisioned and drop the starting row.
func (s *LifecycleService) abandonInstance(
	ctx context.Context,
	instanceID string,
	provisioned []createdResource,
) {
	for _, resource := range provisioned {
		provider, ok := s.providers[resource.kind]
		if !ok {
			continue
		}
		if _, err := provider.Destroy(ctx, resource.provisioned.ResourceID); err != nil {
			log.Printf("⚠️ Rollback destroy of %s resource %s failed: %v",
				resource.kind, resource.provisioned.ResourceID, err)
		}
	}

	if _, err := s.instancesService.DeleteInstance(ctx, instanceID); err != nil {
		log.Printf("⚠️ Failed to delete abandoned instance row %s: %v", instanceID, err)
	}
}

// DestroyInstance tears down everything attached to an instance: resource
// provider resources first, then volumes, then the compute service, then the
// store rows. Each provider call is isolated so one failure does not block the
// others; the result records per-resource success flags for the orphan pass.
func (s *LifecycleService) DestroyInstance(
	ctx context.Context,
	instanceID string,
) (*services.DestroyResult, error) {
	log.Printf("📋 Starting to destroy instance: %s", instanceID)
	if !core.IsValidULID(instanceID) {
		return nil, fmt.Errorf("instance ID must be a valid ULID")
	}

	result := &services.DestroyResult{
		InstanceID:       instanceID,
		ResourcesDeleted: make(map[models.ToolKind]bool),
	}

	maybeInfra, err := s.infraRepo.GetInfraByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance infra: %w", err)
	}

	resources, err := s.resourcesRepo.GetResourcesByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance resources: %w", err)
	}

	for _, resource := range resources {
		result.ResourcesDeleted[resource.ToolID] = s.destroyOneResource(ctx, resource)
	}

	if infra, ok := maybeInfra.Get(); ok {
		if err := s.computeClient.DeleteVolumesForService(ctx, infra.ProviderServiceID); err != nil {
			log.Printf("⚠️ Failed to delete volumes for service %s: %v", infra.ProviderServiceID, err)
		}

		err := core.Retry(ctx, "delete compute service", deleteServiceAttempts, deleteServiceBackoff, func() error {
			return s.computeClient.DeleteService(ctx, infra.ProviderServiceID)
		})
		if err != nil {
			return result, fmt.Errorf("failed to delete compute service %s: %w", infra.ProviderServiceID, err)
		}
		result.ServiceDeleted = true

		err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			// Resource rows cascade from the infra row
			if _, err := s.infraRepo.DeleteInfraByInstanceID(txCtx, instanceID); err != nil {
				return err
			}
			_, err := s.instancesService.DeleteInstance(txCtx, instanceID)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("failed to delete instance rows: %w", err)
		}
		result.RowsDeleted = true
	} else {
		// No infra row: created before tracking existed, or a provider-side
		// orphan. Fall back to name lookup against the compute provider.
		if err := s.destroyUntracked(ctx, instanceID, result); err != nil {
			return result, err
		}
	}

	s.metrics.RecordTeardown()
	log.Printf("📋 Completed successfully - destroyed instance: %s", instanceID)
	return result, nil
}

func (s *LifecycleService) destroyOneResource(ctx context.Context, resource *models.InstanceResource) bool {
	provider, ok := s.providers[resource.ToolID]
	if !ok {
		log.Printf("⚠️ No provider configured for tool kind %s, leaving resource %s for the orphan pass",
			resource.ToolID, resource.ResourceID)
		return false
	}

	destroyed, err := provider.Destroy(ctx, resource.ResourceID)
	if err != nil {
		s.metrics.RecordProviderCall(string(resource.ToolID), "destroy", "error")
		log.Printf("⚠️ Failed to destroy %s resource %s: %v", resource.ToolID, resource.ResourceID, err)
		return false
	}
	s.metrics.RecordProviderCall(string(resource.ToolID), "destroy", "ok")

	if !destroyed {
		log.Printf("📋 Resource %s (%s) was already gone", resource.ResourceID, resource.ToolID)
	}

	if _, err := s.resourcesRepo.DeleteResource(ctx, resource.InstanceID, resource.ToolID, resource.ResourceID); err != nil {
		log.Printf("⚠️ Failed to delete resource row %s: %v", resource.ResourceID, err)
	}

	return true
}

// destroyUntracked handles instances with no infra row: find the service by
// its deterministic name and delete it, plus a best-effort name-lookup delete
// of the credential resource.
func (s *LifecycleService) destroyUntracked(
	ctx context.Context,
	instanceID string,
	result *services.DestroyResult,
) error {
	name := core.InstanceName(instanceID)

	allServices, err := s.computeClient.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list compute services: %w", err)
	}

	for _, service := range allServices {
		if service.Name != name {
			continue
		}
		log.Printf("📋 Found untracked service %s for instance %s by name", service.ID, instanceID)
		if err := s.computeClient.DeleteVolumesForService(ctx, service.ID); err != nil {
			log.Printf("⚠️ Failed to delete volumes for service %s: %v", service.ID, err)
		}
		if err := s.computeClient.DeleteService(ctx, service.ID); err != nil {
			return fmt.Errorf("failed to delete untracked service %s: %w", service.ID, err)
		}
		result.ServiceDeleted = true
		break
	}

	if provider, ok := s.providers[models.ToolKindCredential]; ok {
		if lookup, ok := provider.(clients.NamedResourceLookup); ok {
			maybeResourceID, err := lookup.FindResourceIDByInstanceID(ctx, instanceID)
			if err != nil {
				log.Printf("⚠️ Credential lookup for instance %s failed: %v", instanceID, err)
			} else if resourceID, ok := maybeResourceID.Get(); ok {
				destroyed, err := provider.Destroy(ctx, resourceID)
				if err != nil {
					log.Printf("⚠️ Failed to destroy credential %s found by name: %v", resourceID, err)
				} else {
					result.ResourcesDeleted[models.ToolKindCredential] = destroyed
				}
			}
		}
	}

	deleted, err := s.instancesService.DeleteInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to delete instance row: %w", err)
	}
	result.RowsDeleted = deleted

	return nil
}

// ProvisionResource attaches one resource kind to an existing instance and
// pushes its env var to the running service.
func (s *LifecycleService) ProvisionResource(
	ctx context.Context,
	instanceID string,
	tool models.ToolKind,
) (*models.InstanceResource, error) {
	log.Printf("📋 Starting to provision %s resource for instance: %s", tool, instanceID)
	if !core.IsValidULID(instanceID) {
		return nil, fmt.Errorf("instance ID must be a valid ULID")
	}

	provider, ok := s.providers[tool]
	if !ok {
		return nil, fmt.Errorf("no provider configured for tool kind %s", tool)
	}

	maybeInfra, err := s.infraRepo.GetInfraByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance infra: %w", err)
	}
	infra, ok := maybeInfra.Get()
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", instanceID, core.ErrNotFound)
	}

	maybeExisting, err := s.resourcesRepo.GetResourceByInstanceAndTool(ctx, instanceID, tool)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing resource: %w", err)
	}
	if existing, ok := maybeExisting.Get(); ok {
		log.Printf("📋 Instance %s already has a %s resource", instanceID, tool)
		return existing, nil
	}

	resource, err := provider.Create(ctx, instanceID)
	if err != nil {
		s.metrics.RecordProviderCall(string(tool), "create", "error")
		return nil, fmt.Errorf("failed to create %s resource: %w", tool, err)
	}
	s.metrics.RecordProviderCall(string(tool), "create", "ok")

	record := &models.InstanceResource{
		ID:           core.NewID("res"),
		InstanceID:   instanceID,
		ToolID:       tool,
		ResourceID:   resource.ResourceID,
		EnvKey:       resource.EnvKey,
		EnvValue:     resource.EnvValue,
		ResourceMeta: resource.ResourceMeta,
		Status:       models.ResourceStatusActive,
	}
	if err := s.resourcesRepo.CreateInstanceResource(ctx, record); err != nil {
		if _, destroyErr := provider.Destroy(ctx, resource.ResourceID); destroyErr != nil {
			log.Printf("⚠️ Rollback destroy of %s resource %s failed: %v", tool, resource.ResourceID, destroyErr)
		}
		return nil, fmt.Errorf("failed to persist resource row: %w", err)
	}

	if err := s.computeClient.UpsertVariables(ctx, infra.ProviderServiceID, map[string]string{
		resource.EnvKey: resource.EnvValue,
	}); err != nil {
		log.Printf("⚠️ Failed to push %s env var to service %s: %v", tool, infra.ProviderServiceID, err)
	} else if err := s.computeClient.RedeployService(ctx, infra.ProviderServiceID); err != nil {
		log.Printf("⚠️ Failed to redeploy service %s after env update: %v", infra.ProviderServiceID, err)
	}

	log.Printf("📋 Completed successfully - provisioned %s resource for instance: %s", tool, instanceID)
	return record, nil
}

// DestroyResource detaches one resource from an instance.
func (s *LifecycleService) DestroyResource(
	ctx context.Context,
	instanceID string,
	tool models.ToolKind,
	resourceID string,
) error {
	log.Printf("📋 Starting to destroy %s resource %s for instance: %s", tool, resourceID, instanceID)
	if !core.IsValidULID(instanceID) {
		return fmt.Errorf("instance ID must be a valid ULID")
	}

	provider, ok := s.providers[tool]
	if !ok {
		return fmt.Errorf("no provider configured for tool kind %s", tool)
	}

	maybeResource, err := s.resourcesRepo.GetResourceByInstanceAndTool(ctx, instanceID, tool)
	if err != nil {
		return fmt.Errorf("failed to load resource: %w", err)
	}
	resource, ok := maybeResource.Get()
	if !ok || resource.ResourceID != resourceID {
		return fmt.Errorf("resource %s: %w", resourceID, core.ErrNotFound)
	}

	if _, err := provider.Destroy(ctx, resourceID); err != nil {
		s.metrics.RecordProviderCall(string(tool), "destroy", "error")
		return fmt.Errorf("failed to destroy %s resource: %w", tool, err)
	}
	s.metrics.RecordProviderCall(string(tool), "destroy", "ok")

	if _, err := s.resourcesRepo.DeleteResource(ctx, instanceID, tool, resourceID); err != nil {
		return fmt.Errorf("failed to delete resource row: %w", err)
	}

	log.Printf("📋 Completed successfully - destroyed %s resource for instance: %s", tool, instanceID)
	return nil
}

// ConfigureInstance pushes extra env vars to the instance's service.
func (s *LifecycleService) ConfigureInstance(
	ctx context.Context,
	instanceID string,
	variables map[string]string,
) error {
	log.Printf("📋 Starting to configure instance: %s", instanceID)
	if !core.IsValidULID(instanceID) {
		return fmt.Errorf("instance ID must be a valid ULID")
	}
	if len(variables) == 0 {
		return fmt.Errorf("no variables provided")
	}

	infra, err := s.requireInfra(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := s.computeClient.UpsertVariables(ctx, infra.ProviderServiceID, variables); err != nil {
		return fmt.Errorf("failed to upsert variables: %w", err)
	}

	log.Printf("📋 Completed successfully - configured instance: %s", instanceID)
	return nil
}

// RedeployInstance triggers a redeploy of the instance's service.
func (s *LifecycleService) RedeployInstance(ctx context.Context, instanceID string) error {
	log.Printf("📋 Starting to redeploy instance: %s", instanceID)
	if !core.IsValidULID(instanceID) {
		return fmt.Errorf("instance ID must be a valid ULID")
	}

	infra, err := s.requireInfra(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := s.computeClient.RedeployService(ctx, infra.ProviderServiceID); err != nil {
		return fmt.Errorf("failed to redeploy service: %w", err)
	}

	log.Printf("📋 Completed successfully - redeployed instance: %s", instanceID)
	return nil
}

// BatchStatuses fetches deploy statuses for every tracked project in one call
// per project.
func (s *LifecycleService) BatchStatuses(ctx context.Context) ([]clients.ServiceStatus, error) {
	var all []clients.ServiceStatus

	for _, projectID := range s.computeConfig.ProjectIDs {
		statuses, err := s.computeClient.GetProjectStatuses(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to get statuses for project %s: %w", projectID, err)
		}
		all = append(all, statuses...)
	}

	return all, nil
}

func (s *LifecycleService) requireInfra(ctx context.Context, instanceID string) (*models.InstanceInfra, error) {
	maybeInfra, err := s.infraRepo.GetInfraByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance infra: %w", err)
	}
	infra, ok := maybeInfra.Get()
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", instanceID, core.ErrNotFound)
	}
	return infra, nil
}

// nextProjectID spreads new services across the configured projects.
func (s *LifecycleService) nextProjectID() string {
	idx := s.projectCursor.Add(1) - 1
	return s.computeConfig.ProjectIDs[idx%uint64(len(s.computeConfig.ProjectIDs))]
}
