package instances

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/mo"

	"agentpool/core"
	"agentpool/db"
	"agentpool/models"
)

type InstancesService struct {
	instancesRepo *db.PostgresInstancesRepository
}

func NewInstancesService(repo *db.PostgresInstancesRepository) *InstancesService {
	return &InstancesService{instancesRepo: repo}
}

// CreateStartingInstance inserts the pool row for a freshly requested
// instance. The row exists before the remote service necessarily does; the
// reconciliation loop takes it from there.
func (s *InstancesService) CreateStartingInstance(ctx context.Context, id string) (*models.Instance, error) {
	log.Printf("📋 Starting to create starting instance: %s", id)
	if !core.IsValidULID(id) {
		return nil, fmt.Errorf("instance ID must be a valid ULID")
	}

	instance := &models.Instance{
		ID:     id,
		Name:   core.InstanceName(id),
		Status: models.PoolStatusStarting,
	}

	if err := s.instancesRepo.CreateInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	log.Printf("📋 Completed successfully - created starting instance: %s", instance.ID)
	return instance, nil
}

func (s *InstancesService) GetInstanceByID(ctx context.Context, id string) (mo.Option[*models.Instance], error) {
	log.Printf("📋 Starting to get instance by ID: %s", id)
	if !core.IsValidULID(id) {
		return mo.None[*models.Instance](), fmt.Errorf("instance ID must be a valid ULID")
	}

	maybeInstance, err := s.instancesRepo.GetInstanceByID(ctx, id)
	if err != nil {
		return mo.None[*models.Instance](), fmt.Errorf("failed to get instance by ID: %w", err)
	}

	if maybeInstance.IsPresent() {
		log.Printf("📋 Completed successfully - retrieved instance with ID: %s", id)
	} else {
		log.Printf("📋 Completed successfully - instance not found with ID: %s", id)
	}
	return maybeInstance, nil
}

func (s *InstancesService) GetAllInstances(ctx context.Context) ([]*models.Instance, error) {
	log.Printf("📋 Starting to get all instances")

	instances, err := s.instancesRepo.GetAllInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get all instances: %w", err)
	}

	log.Printf("📋 Completed successfully - retrieved %d instances", len(instances))
	return instances, nil
}

func (s *InstancesService) GetInstancesByStatus(
	ctx context.Context,
	statuses ...models.PoolStatus,
) ([]*models.Instance, error) {
	log.Printf("📋 Starting to get instances by status: %v", statuses)
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}

	instances, err := s.instancesRepo.GetInstancesByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to get instances by status: %w", err)
	}

	log.Printf("📋 Completed successfully - retrieved %d instances", len(instances))
	return instances, nil
}

func (s *InstancesService) UpsertReconciledInstance(ctx context.Context, instance *models.Instance) error {
	if !core.IsValidULID(instance.ID) {
		return fmt.Errorf("instance ID must be a valid ULID")
	}

	if err := s.instancesRepo.UpsertReconciledInstance(ctx, instance); err != nil {
		return fmt.Errorf("failed to upsert reconciled instance: %w", err)
	}

	return nil
}

func (s *InstancesService) ClaimOldestIdleInstance(ctx context.Context) (mo.Option[*models.Instance], error) {
	log.Printf("📋 Starting to claim oldest idle instance")

	maybeInstance, err := s.instancesRepo.ClaimOldestIdleInstance(ctx)
	if err != nil {
		return mo.None[*models.Instance](), fmt.Errorf("failed to claim idle instance: %w", err)
	}

	if instance, ok := maybeInstance.Get(); ok {
		log.Printf("📋 Completed successfully - claimed instance: %s", instance.ID)
	} else {
		log.Printf("📋 Completed successfully - no idle instance available")
	}
	return maybeInstance, nil
}

func (s *InstancesService) CompleteClaim(
	ctx context.Context,
	id string,
	agentName, conversationID, inviteURL, instructions *string,
) (mo.Option[*models.Instance], error) {
	log.Printf("📋 Starting to complete claim for instance: %s", id)
	if !core.IsValidULID(id) {
		return mo.None[*models.Instance](), fmt.Errorf("instance ID must be a valid ULID")
	}
	if conversationID == nil || *conversationID == "" {
		return mo.None[*models.Instance](), fmt.Errorf("conversation ID cannot be empty")
	}

	maybeInstance, err := s.instancesRepo.CompleteClaim(ctx, id, agentName, conversationID, inviteURL, instructions)
	if err != nil {
		return mo.None[*models.Instance](), fmt.Errorf("failed to complete claim: %w", err)
	}

	if maybeInstance.IsPresent() {
		log.Printf("📋 Completed successfully - claim completed for instance: %s", id)
	} else {
		log.Printf("⚠️ Claim completion skipped - instance %s is no longer claiming", id)
	}
	return maybeInstance, nil
}

func (s *InstancesService) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	log.Printf("📋 Starting to release claim for instance: %s", id)
	if !core.IsValidULID(id) {
		return false, fmt.Errorf("instance ID must be a valid ULID")
	}

	released, err := s.instancesRepo.ReleaseClaim(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}

	log.Printf("📋 Completed successfully - claim release for instance %s: %t", id, released)
	return released, nil
}

func (s *InstancesService) UpdateInstanceStatus(
	ctx context.Context,
	id string,
	status models.PoolStatus,
) (bool, error) {
	log.Printf("📋 Starting to update instance %s status to: %s", id, status)
	if !core.IsValidULID(id) {
		return false, fmt.Errorf("instance ID must be a valid ULID")
	}

	updated, err := s.instancesRepo.UpdateInstanceStatus(ctx, id, status)
	if err != nil {
		return false, fmt.Errorf("failed to update instance status: %w", err)
	}

	log.Printf("📋 Completed successfully - instance %s status update: %t", id, updated)
	return updated, nil
}

func (s *InstancesService) DeleteInstance(ctx context.Context, id string) (bool, error) {
	log.Printf("📋 Starting to delete instance: %s", id)
	if !core.IsValidULID(id) {
		return false, fmt.Errorf("instance ID must be a valid ULID")
	}

	deleted, err := s.instancesRepo.DeleteInstance(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete instance: %w", err)
	}

	log.Printf("📋 Completed successfully - instance %s deletion: %t", id, deleted)
	return deleted, nil
}

func (s *InstancesService) GetPoolCounts(ctx context.Context) (*models.PoolCounts, error) {
	counts, err := s.instancesRepo.GetPoolCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool counts: %w", err)
	}

	return counts, nil
}
