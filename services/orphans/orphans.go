package orphans

import (
	"context"
	"fmt"
	"log"
	"strings"

	"agentpool/clients"
	"agentpool/models"
	"agentpool/services/lifecycle"
)

// ActiveResourcesStore is the subset of the resource store the scanner needs.
// Satisfied by db.PostgresResourcesRepository.
type ActiveResourcesStore interface {
	GetActiveResourceIDsByTool(ctx context.Context, toolID models.ToolKind) ([]string, error)
}

// Report lists the orphaned resources found for one kind.
type Report struct {
	Kind      models.ToolKind
	Resources []clients.LiveResource
}

// Scanner cross-references each provider's live inventory against the store's
// active resource ids and the compute provider's live service set. Anything
// live but unreferenced by either is an orphan - the safety net against
// partial-failure leaks during teardown.
type Scanner struct {
	providers     lifecycle.ProviderRegistry
	resourcesRepo ActiveResourcesStore
	computeClient clients.ComputeClient
}

// NewScanner creates a new orphan scanner
func NewScanner(
	providers lifecycle.ProviderRegistry,
	resourcesRepo ActiveResourcesStore,
	computeClient clients.ComputeClient,
) *Scanner {
	return &Scanner{
		providers:     providers,
		resourcesRepo: resourcesRepo,
		computeClient: computeClient,
	}
}

// Scan builds one report per configured provider kind. It never deletes
// anything; deletion is a separate, confirmed step.
func (s *Scanner) Scan(ctx context.Context) ([]Report, error) {
	log.Printf("📋 Starting orphan scan across %d providers", len(s.providers))

	liveServiceNames, err := s.liveServiceNames(ctx)
	if err != nil {
		return nil, err
	}

	var reports []Report
	for _, kind := range models.AllToolKinds {
		provider, ok := s.providers[kind]
		if !ok {
			continue
		}

		report, err := s.scanKind(ctx, kind, provider, liveServiceNames)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s resources: %w", kind, err)
		}
		reports = append(reports, *report)
	}

	log.Printf("📋 Completed orphan scan")
	return reports, nil
}

func (s *Scanner) scanKind(
	ctx context.Context,
	kind models.ToolKind,
	provider clients.ResourceProvider,
	liveServiceNames map[string]bool,
) (*Report, error) {
	inventory, err := provider.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list live inventory: %w", err)
	}

	activeIDs, err := s.resourcesRepo.GetActiveResourceIDsByTool(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load active resource ids: %w", err)
	}
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	report := &Report{Kind: kind}
	for _, resource := range inventory {
		if active[resource.ResourceID] {
			continue
		}
		if s.referencedByComputeService(resource.Name, liveServiceNames) {
			continue
		}
		report.Resources = append(report.Resources, resource)
	}

	log.Printf("📋 Kind %s: %d live, %d active in store, %d orphaned",
		kind, len(inventory), len(activeIDs), len(report.Resources))
	return report, nil
}

// Delete destroys every resource in the given reports. Callers confirm the
// reports first; each destroy is isolated so one failure does not stop the rest.
func (s *Scanner) Delete(ctx context.Context, reports []Report) (int, error) {
	deleted := 0
	for _, report := range reports {
		provider, ok := s.providers[report.Kind]
		if !ok {
			continue
		}
		for _, resource := range report.Resources {
			destroyed, err := provider.Destroy(ctx, resource.ResourceID)
			if err != nil {
				log.Printf("⚠️ Failed to destroy orphaned %s resource %s (%s): %v",
					report.Kind, resource.ResourceID, resource.Name, err)
				continue
			}
			if destroyed {
				log.Printf("✅ Destroyed orphaned %s resource %s (%s)",
					report.Kind, resource.ResourceID, resource.Name)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *Scanner) liveServiceNames(ctx context.Context) (map[string]bool, error) {
	allServices, err := s.computeClient.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list compute services: %w", err)
	}

	names := make(map[string]bool, len(allServices))
	for _, service := range allServices {
		names[service.Name] = true
	}
	return names, nil
}

// referencedByComputeService matches a provider resource back to a live
// compute service via the deterministic per-instance naming. Mailbox addresses
// carry the name in their local part.
func (s *Scanner) referencedByComputeService(resourceName string, liveServiceNames map[string]bool) bool {
	if liveServiceNames[resourceName] {
		return true
	}
	if localPart, _, found := strings.Cut(resourceName, "@"); found {
		return liveServiceNames[localPart]
	}
	return false
}
