package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/samber/mo"

	"agentpool/clients"
	"agentpool/config"
	"agentpool/core"
	"agentpool/metrics"
	"agentpool/models"
	"agentpool/services"
	"agentpool/services/lifecycle"
)

// PoolService drives the reconciliation loop and the claim protocol. All
// durable state lives in the store; the only in-memory state is the mid-claim
// marker set, which is safe to lose on restart because the claiming status in
// the store is authoritative.
type PoolService struct {
	instancesService services.InstancesService
	lifecycleService services.LifecycleService
	infraRepo        lifecycle.InfraRepository
	instanceClient   clients.InstanceClient
	metrics          *metrics.Metrics
	cfg              config.PoolConfig

	mu       sync.Mutex
	midClaim map[string]struct{}
}

// NewPoolService creates a new pool service
func NewPoolService(
	instancesService services.InstancesService,
	lifecycleService services.LifecycleService,
	infraRepo lifecycle.InfraRepository,
	instanceClient clients.InstanceClient,
	m *metrics.Metrics,
	cfg config.PoolConfig,
) *PoolService {
	return &PoolService{
		instancesService: instancesService,
		lifecycleService: lifecycleService,
		infraRepo:        infraRepo,
		instanceClient:   instanceClient,
		metrics:          m,
		cfg:              cfg,
		midClaim:         make(map[string]struct{}),
	}
}

// Tick runs one reconciliation pass. Every sub-step is isolated: a failing
// health check or teardown is logged and skipped so one bad instance cannot
// stall the loop.
func (s *PoolService) Tick(ctx context.Context) {
	start := time.Now()
	log.Printf("📋 Starting reconciliation tick")

	statuses, err := s.lifecycleService.BatchStatuses(ctx)
	if err != nil {
		log.Printf("❌ Tick aborted - failed to fetch provider statuses: %v", err)
		return
	}
	statusByService := make(map[string]clients.ServiceStatus, len(statuses))
	for _, status := range statuses {
		statusByService[status.ServiceID] = status
	}

	instances, err := s.instancesService.GetAllInstances(ctx)
	if err != nil {
		log.Printf("❌ Tick aborted - failed to load instances: %v", err)
		return
	}

	infras, err := s.infraRepo.GetAllInfra(ctx)
	if err != nil {
		log.Printf("❌ Tick aborted - failed to load instance infra: %v", err)
		return
	}
	infraByInstance := make(map[string]*models.InstanceInfra, len(infras))
	for _, infra := range infras {
		infraByInstance[infra.InstanceID] = infra
	}

	probes := s.runHealthChecks(ctx, instances, infraByInstance, statusByService)

	var teardowns []string
	now := time.Now()

	for _, instance := range instances {
		if s.isMidClaim(instance.ID) || instance.Status == models.PoolStatusClaiming {
			continue
		}

		infra, hasInfra := infraByInstance[instance.ID]

		var deployStatus *models.DeployStatus
		var providerURL *string
		serviceReported := false
		if hasInfra {
			if status, ok := statusByService[infra.ProviderServiceID]; ok {
				serviceReported = true
				deployStatus = status.DeployStatus
				providerURL = status.URL

				// Only overwrite stored deploy state with a real report; a
				// momentarily missing service must not null out the last
				// known status
				if _, err := s.infraRepo.UpdateDeployState(ctx, instance.ID, deployStatus, providerURL); err != nil {
					log.Printf("⚠️ Failed to record deploy state for instance %s: %v", instance.ID, err)
				}
			}

			if !serviceReported {
				// The provider no longer knows this service at all. Skip rows
				// still starting to avoid racing a create in flight.
				if instance.Status == models.PoolStatusStarting &&
					instance.Age(now) < s.cfg.StuckTimeout {
					continue
				}
				log.Printf("⚠️ Instance %s service %s vanished from provider, tearing down",
					instance.ID, infra.ProviderServiceID)
				teardowns = append(teardowns, instance.ID)
				continue
			}
		}

		probe, probeRan := probes[instance.ID]
		newStatus := DeriveStatus(StatusInputs{
			DeployStatus: deployStatus,
			ProbeRan:     probeRan,
			ProbeReady:   probeRan && probe,
			Bound:        instance.ConversationID != nil,
			IsClaimed:    instance.IsClaimed(),
			Age:          instance.Age(now),
			StuckTimeout: s.cfg.StuckTimeout,
		})

		if newStatus == models.PoolStatusDead || newStatus == models.PoolStatusSleeping {
			if !instance.IsClaimed() {
				teardowns = append(teardowns, instance.ID)
				continue
			}
			// Claimed instances are never silently deleted; surface the
			// failure instead
			newStatus = models.PoolStatusCrashed
		}

		if providerURL != nil && instance.URL == nil {
			instance.URL = providerURL
		}
		instance.Status = newStatus
		if err := s.instancesService.UpsertReconciledInstance(ctx, instance); err != nil {
			log.Printf("⚠️ Failed to upsert instance %s: %v", instance.ID, err)
		}
	}

	s.runTeardowns(ctx, teardowns)
	s.replenish(ctx)
	s.refreshGauges(ctx)

	s.metrics.RecordTick(time.Since(start).Seconds())
	log.Printf("📋 Completed reconciliation tick in %v (%d instances, %d teardowns)",
		time.Since(start).Round(time.Millisecond), len(instances), len(teardowns))
}

// runHealthChecks probes every successfully deployed instance concurrently
// with a bounded per-probe timeout. Instances mid-claim are skipped so the
// probe does not race the provisioning call.
func (s *PoolService) runHealthChecks(
	ctx context.Context,
	instances []*models.Instance,
	infraByInstance map[string]*models.InstanceInfra,
	statusByService map[string]clients.ServiceStatus,
) map[string]bool {
	results := make(map[string]bool)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, instance := range instances {
		if s.isMidClaim(instance.ID) || instance.Status == models.PoolStatusClaiming {
			continue
		}

		infra, ok := infraByInstance[instance.ID]
		if !ok {
			continue
		}
		status, ok := statusByService[infra.ProviderServiceID]
		if !ok || status.DeployStatus == nil || *status.DeployStatus != models.DeployStatusSuccess {
			continue
		}

		url := instance.URL
		if url == nil {
			url = status.URL
		}
		if url == nil {
			continue
		}

		wg.Add(1)
		go func(instanceID, baseURL string) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
			defer cancel()

			ready := false
			if result, err := s.instanceClient.CheckHealth(probeCtx, baseURL); err != nil {
				log.Printf("⚠️ Health check failed for instance %s: %v", instanceID, err)
			} else {
				ready = result.Ready
			}

			resultsMu.Lock()
			results[instanceID] = ready
			resultsMu.Unlock()
		}(instance.ID, *url)
	}

	wg.Wait()
	return results
}

// runTeardowns destroys confirmed-dead unclaimed instances in parallel,
// best-effort.
func (s *PoolService) runTeardowns(ctx context.Context, instanceIDs []string) {
	var wg sync.WaitGroup
	for _, instanceID := range instanceIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.lifecycleService.DestroyInstance(ctx, id); err != nil {
				log.Printf("⚠️ Teardown failed for instance %s: %v", id, err)
			}
		}(instanceID)
	}
	wg.Wait()
}

// replenish tops the pool back up to the configured idle minimum.
func (s *PoolService) replenish(ctx context.Context) {
	counts, err := s.instancesService.GetPoolCounts(ctx)
	if err != nil {
		log.Printf("⚠️ Replenish skipped - failed to get pool counts: %v", err)
		return
	}

	deficit := s.cfg.MinIdleInstances - (counts.Idle + counts.Starting)
	if deficit <= 0 {
		return
	}

	log.Printf("📋 Pool below minimum (idle=%d starting=%d min=%d), creating %d instances",
		counts.Idle, counts.Starting, s.cfg.MinIdleInstances, deficit)
	s.createInstances(ctx, deficit)
}

// createInstances fires n creations in parallel and collects best-effort: a
// failure in one does not cancel the others.
func (s *PoolService) createInstances(ctx context.Context, n int) int {
	var wg sync.WaitGroup
	var createdMu sync.Mutex
	created := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.lifecycleService.CreateInstance(ctx, models.AllToolKinds); err != nil {
				log.Printf("⚠️ Instance creation failed: %v", err)
				return
			}
			createdMu.Lock()
			created++
			createdMu.Unlock()
		}()
	}

	wg.Wait()
	return created
}

func (s *PoolService) refreshGauges(ctx context.Context) {
	counts, err := s.instancesService.GetPoolCounts(ctx)
	if err != nil {
		return
	}
	s.metrics.SetPoolSize("starting", counts.Starting)
	s.metrics.SetPoolSize("idle", counts.Idle)
	s.metrics.SetPoolSize("claimed", counts.Claimed)
	s.metrics.SetPoolSize("crashed", counts.Crashed)
}

// Claim hands out one idle instance. Returns None when the pool has none
// idle - a normal outcome, not an error. Correctness under concurrent claims
// rests on the locking claim-selection query, not on any in-process lock.
func (s *PoolService) Claim(
	ctx context.Context,
	req services.ClaimRequest,
) (mo.Option[*models.Instance], error) {
	start := time.Now()

	maybeInstance, err := s.instancesService.ClaimOldestIdleInstance(ctx)
	if err != nil {
		s.metrics.RecordClaim("error", time.Since(start).Seconds())
		return mo.None[*models.Instance](), fmt.Errorf("failed to select idle instance: %w", err)
	}
	instance, ok := maybeInstance.Get()
	if !ok {
		s.metrics.RecordClaim("empty", time.Since(start).Seconds())
		return mo.None[*models.Instance](), nil
	}

	s.markMidClaim(instance.ID)
	defer s.unmarkMidClaim(instance.ID)

	if instance.URL == nil {
		// Should not happen for an idle instance; release it and let the
		// reconciliation loop sort it out
		if _, releaseErr := s.instancesService.ReleaseClaim(ctx, instance.ID); releaseErr != nil {
			log.Printf("⚠️ Failed to release url-less instance %s: %v", instance.ID, releaseErr)
		}
		s.metrics.RecordClaim("released", time.Since(start).Seconds())
		return mo.None[*models.Instance](), fmt.Errorf("claimed instance %s has no url", instance.ID)
	}

	provisionCtx, cancel := context.WithTimeout(ctx, s.cfg.ProvisionTimeout)
	defer cancel()

	result, err := s.instanceClient.Provision(provisionCtx, *instance.URL, clients.ProvisionRequest{
		AgentName:    req.AgentName,
		Instructions: req.Instructions,
		JoinURL:      req.JoinURL,
	})
	if err != nil {
		return s.failClaim(ctx, instance, start, err)
	}

	var instructions *string
	if req.Instructions != "" {
		instructions = &req.Instructions
	}
	maybeClaimed, err := s.instancesService.CompleteClaim(
		ctx, instance.ID, &result.AgentName, &result.ConversationID, result.InviteURL, instructions)
	if err != nil {
		s.metrics.RecordClaim("error", time.Since(start).Seconds())
		return mo.None[*models.Instance](), fmt.Errorf("failed to complete claim: %w", err)
	}
	claimed, ok := maybeClaimed.Get()
	if !ok {
		// The row left claiming under us; the runtime is bound but the claim
		// is lost. Surface it rather than hand out a half-bound instance.
		s.metrics.RecordClaim("error", time.Since(start).Seconds())
		return mo.None[*models.Instance](), fmt.Errorf("instance %s left claiming state mid-claim", instance.ID)
	}

	s.metrics.RecordClaim("claimed", time.Since(start).Seconds())
	log.Printf("✅ Claimed instance %s for agent %q (conversation %s)",
		claimed.ID, result.AgentName, result.ConversationID)
	return mo.Some(claimed), nil
}

// failClaim classifies a provisioning failure: permanent faults mark the
// instance crashed so it stops being offered; transient ones release it back
// to idle for a later retry.
func (s *PoolService) failClaim(
	ctx context.Context,
	instance *models.Instance,
	start time.Time,
	provisionErr error,
) (mo.Option[*models.Instance], error) {
	if core.IsPermanentError(provisionErr) {
		log.Printf("❌ Permanent provisioning failure for instance %s, marking crashed: %v",
			instance.ID, provisionErr)
		if _, err := s.instancesService.UpdateInstanceStatus(ctx, instance.ID, models.PoolStatusCrashed); err != nil {
			log.Printf("⚠️ Failed to mark instance %s crashed: %v", instance.ID, err)
		}
		s.metrics.RecordClaim("crashed", time.Since(start).Seconds())
		return mo.None[*models.Instance](), fmt.Errorf("provisioning failed permanently: %w", provisionErr)
	}

	log.Printf("⚠️ Transient provisioning failure for instance %s, releasing: %v",
		instance.ID, provisionErr)
	if _, err := s.instancesService.ReleaseClaim(ctx, instance.ID); err != nil {
		log.Printf("⚠️ Failed to release claim on instance %s: %v", instance.ID, err)
	}
	s.metrics.RecordClaim("released", time.Since(start).Seconds())
	return mo.None[*models.Instance](), fmt.Errorf("provisioning failed: %w", provisionErr)
}

// Replenish force-creates count instances, or triggers a full tick when count
// is zero.
func (s *PoolService) Replenish(ctx context.Context, count int) (int, error) {
	log.Printf("📋 Starting replenish (count=%d)", count)
	if count <= 0 {
		s.Tick(ctx)
		return 0, nil
	}

	created := s.createInstances(ctx, count)
	log.Printf("📋 Completed replenish - created %d/%d instances", created, count)
	return created, nil
}

// Drain destroys up to count unclaimed instances, idle first.
func (s *PoolService) Drain(ctx context.Context, count int) (int, error) {
	log.Printf("📋 Starting drain (count=%d)", count)
	if count <= 0 {
		return 0, fmt.Errorf("drain count must be positive")
	}

	candidates, err := s.instancesService.GetInstancesByStatus(
		ctx, models.PoolStatusIdle, models.PoolStatusStarting, models.PoolStatusSleeping)
	if err != nil {
		return 0, fmt.Errorf("failed to load drain candidates: %w", err)
	}

	// Oldest idle instances go first; starting ones only if idle alone cannot
	// satisfy the count
	var targets []string
	for _, status := range []models.PoolStatus{models.PoolStatusIdle, models.PoolStatusSleeping, models.PoolStatusStarting} {
		for _, candidate := range candidates {
			if len(targets) >= count {
				break
			}
			if candidate.Status == status {
				targets = append(targets, candidate.ID)
			}
		}
	}

	var wg sync.WaitGroup
	var destroyedMu sync.Mutex
	destroyed := 0
	for _, instanceID := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.lifecycleService.DestroyInstance(ctx, id); err != nil {
				log.Printf("⚠️ Drain teardown failed for instance %s: %v", id, err)
				return
			}
			destroyedMu.Lock()
			destroyed++
			destroyedMu.Unlock()
		}(instanceID)
	}
	wg.Wait()

	log.Printf("📋 Completed drain - destroyed %d/%d instances", destroyed, len(targets))
	return destroyed, nil
}

// Kill destroys one instance regardless of status.
func (s *PoolService) Kill(ctx context.Context, instanceID string) error {
	log.Printf("📋 Starting to kill instance: %s", instanceID)

	maybeInstance, err := s.instancesService.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	if maybeInstance.IsAbsent() {
		return fmt.Errorf("instance %s: %w", instanceID, core.ErrNotFound)
	}

	if _, err := s.lifecycleService.DestroyInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to destroy instance: %w", err)
	}

	log.Printf("📋 Completed successfully - killed instance: %s", instanceID)
	return nil
}

// DismissCrashed destroys a crashed instance once an operator has acknowledged it.
func (s *PoolService) DismissCrashed(ctx context.Context, instanceID string) error {
	log.Printf("📋 Starting to dismiss crashed instance: %s", instanceID)

	maybeInstance, err := s.instancesService.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	instance, ok := maybeInstance.Get()
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, core.ErrNotFound)
	}
	if instance.Status != models.PoolStatusCrashed {
		return fmt.Errorf("instance %s is %s, not crashed", instanceID, instance.Status)
	}

	if _, err := s.lifecycleService.DestroyInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to destroy instance: %w", err)
	}

	log.Printf("📋 Completed successfully - dismissed crashed instance: %s", instanceID)
	return nil
}

func (s *PoolService) markMidClaim(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.midClaim[instanceID] = struct{}{}
}

func (s *PoolService) unmarkMidClaim(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.midClaim, instanceID)
}

func (s *PoolService) isMidClaim(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.midClaim[instanceID]
	return ok
}
