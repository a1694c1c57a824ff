package phonepool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"agentpool/clients"
	"agentpool/clients/phonenumbers"
	"agentpool/core"
	"agentpool/models"
)

// PhoneNumbersRepository is the subset of the phone-number store the provider
// needs. Satisfied by db.PostgresPhoneNumbersRepository.
type PhoneNumbersRepository interface {
	InsertPhoneNumber(ctx context.Context, number *models.PoolPhoneNumber) error
	ClaimAvailablePhoneNumber(ctx context.Context, instanceID string) (mo.Option[*models.PoolPhoneNumber], error)
	ReleasePhoneNumber(ctx context.Context, providerSID string) (bool, error)
	GetAllPhoneNumbers(ctx context.Context) ([]*models.PoolPhoneNumber, error)
}

// UpstreamClient is the subset of the upstream phone API the provider needs.
// Satisfied by phonenumbers.Client.
type UpstreamClient interface {
	SearchAvailableNumbers(ctx context.Context, limit int) ([]phonenumbers.AvailableNumber, error)
	PurchaseNumber(ctx context.Context, phoneNumber string) (*phonenumbers.PurchasedNumber, error)
	AssignToMessagingProfile(ctx context.Context, numberSID string) error
	UnassignFromMessagingProfile(ctx context.Context, numberSID string) error
	ListNumbers(ctx context.Context) ([]clients.LiveResource, error)
	ReleaseNumberUpstream(ctx context.Context, numberSID string) (bool, error)
}

const (
	maxPurchaseAttempts = 3
	purchaseBackoff     = 2 * time.Second
	searchBatchSize     = 5
)

// PhoneProvider attaches SMS-capable phone numbers to instances. Numbers are
// expensive and slow to purchase, so releases return them to an internal pool
// and the next Create reuses a pooled number before buying a new one.
type PhoneProvider struct {
	upstream UpstreamClient
	repo     PhoneNumbersRepository
}

type phoneMeta struct {
	ProviderSID  string  `json:"provider_sid"`
	PhoneNumber  string  `json:"phone_number"`
	MonthlyPrice *string `json:"monthly_price"`
	Reused       bool    `json:"reused"`
}

// NewPhoneProvider creates a new phone number provider
func NewPhoneProvider(upstream UpstreamClient, repo PhoneNumbersRepository) *PhoneProvider {
	return &PhoneProvider{upstream: upstream, repo: repo}
}

func (p *PhoneProvider) Kind() models.ToolKind {
	return models.ToolKindPhone
}

// Create assigns a phone number to the instance: a pooled number when one is
// available, otherwise a freshly purchased one.
func (p *PhoneProvider) Create(ctx context.Context, instanceID string) (*clients.ProvisionedResource, error) {
	log.Printf("📋 Starting to assign phone number to instance: %s", instanceID)

	maybePooled, err := p.repo.ClaimAvailablePhoneNumber(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pooled number: %w", err)
	}

	if pooled, ok := maybePooled.Get(); ok {
		if err := p.upstream.AssignToMessagingProfile(ctx, pooled.ProviderSID); err != nil {
			// Put the number back so it is not stranded in assigned state
			if _, releaseErr := p.repo.ReleasePhoneNumber(ctx, pooled.ProviderSID); releaseErr != nil {
				log.Printf("⚠️ Failed to return number %s to pool: %v", pooled.ProviderSID, releaseErr)
			}
			return nil, fmt.Errorf("failed to assign pooled number to messaging profile: %w", err)
		}

		log.Printf("📋 Completed successfully - reused pooled number %s for instance: %s", pooled.PhoneNumber, instanceID)
		return p.provisionedResource(pooled.ProviderSID, pooled.PhoneNumber, pooled.MonthlyPrice, true)
	}

	purchased, err := p.purchaseWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.upstream.AssignToMessagingProfile(ctx, purchased.SID); err != nil {
		return nil, fmt.Errorf("failed to assign purchased number to messaging profile: %w", err)
	}

	price := purchased.MonthlyPrice
	record := &models.PoolPhoneNumber{
		ID:                 core.NewID("phn"),
		PhoneNumber:        purchased.PhoneNumber,
		ProviderSID:        purchased.SID,
		MonthlyPrice:       &price,
		Status:             models.PhoneNumberStatusAssigned,
		AssignedInstanceID: &instanceID,
	}
	if err := p.repo.InsertPhoneNumber(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record purchased number: %w", err)
	}

	log.Printf("📋 Completed successfully - purchased number %s for instance: %s", purchased.PhoneNumber, instanceID)
	return p.provisionedResource(purchased.SID, purchased.PhoneNumber, &price, false)
}

// purchaseWithRetry buys a new number upstream. A purchase conflict means the
// candidate got bought out from under us, so the next attempt re-searches for
// fresh candidates instead of retrying the same number.
func (p *PhoneProvider) purchaseWithRetry(ctx context.Context) (*phonenumbers.PurchasedNumber, error) {
	var lastErr error

	for attempt := 1; attempt <= maxPurchaseAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * purchaseBackoff
			log.Printf("⚠️ Phone number purchase attempt %d/%d after %v: %v",
				attempt, maxPurchaseAttempts, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("purchase aborted: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		candidates, err := p.upstream.SearchAvailableNumbers(ctx, searchBatchSize)
		if err != nil {
			lastErr = err
			if core.IsTransientError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to search for numbers: %w", err)
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no phone numbers available for purchase")
		}

		for _, candidate := range candidates {
			purchased, err := p.upstream.PurchaseNumber(ctx, candidate.PhoneNumber)
			if err == nil {
				return purchased, nil
			}
			lastErr = err
			if errors.Is(err, phonenumbers.ErrNumberTaken) {
				// Someone else grabbed it; try the next candidate
				continue
			}
			if core.IsTransientError(err) {
				break
			}
			return nil, fmt.Errorf("failed to purchase number: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to purchase number after %d attempts: %w", maxPurchaseAttempts, lastErr)
}

// Destroy releases the number back into the internal pool. The number stays
// purchased upstream so the next instance can reuse it without a new purchase.
// Numbers with no pool row cannot be reused, so those are released upstream
// permanently instead - that is the path the orphan pass takes.
func (p *PhoneProvider) Destroy(ctx context.Context, resourceID string) (bool, error) {
	log.Printf("📋 Starting to release phone number: %s", resourceID)

	if err := p.upstream.UnassignFromMessagingProfile(ctx, resourceID); err != nil {
		return false, fmt.Errorf("failed to unassign number from messaging profile: %w", err)
	}

	released, err := p.repo.ReleasePhoneNumber(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to release number into pool: %w", err)
	}
	if !released {
		log.Printf("⚠️ Number %s not tracked in the pool, releasing upstream", resourceID)
		gone, err := p.upstream.ReleaseNumberUpstream(ctx, resourceID)
		if err != nil {
			return false, fmt.Errorf("failed to release untracked number upstream: %w", err)
		}
		return gone, nil
	}

	log.Printf("📋 Completed successfully - released phone number: %s", resourceID)
	return true, nil
}

// ListLive returns upstream numbers that should be attached to an instance.
// Pooled available numbers are deliberately retained for reuse, so they are
// excluded from the orphan candidate set.
func (p *PhoneProvider) ListLive(ctx context.Context) ([]clients.LiveResource, error) {
	upstream, err := p.upstream.ListNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list upstream numbers: %w", err)
	}

	pooled, err := p.repo.GetAllPhoneNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pooled numbers: %w", err)
	}

	available := make(map[string]bool, len(pooled))
	for _, number := range pooled {
		if number.Status == models.PhoneNumberStatusAvailable {
			available[number.ProviderSID] = true
		}
	}

	live := make([]clients.LiveResource, 0, len(upstream))
	for _, number := range upstream {
		if available[number.ResourceID] {
			continue
		}
		live = append(live, number)
	}

	return live, nil
}

func (p *PhoneProvider) provisionedResource(
	providerSID, phoneNumber string,
	monthlyPrice *string,
	reused bool,
) (*clients.ProvisionedResource, error) {
	meta, err := json.Marshal(phoneMeta{
		ProviderSID:  providerSID,
		PhoneNumber:  phoneNumber,
		MonthlyPrice: monthlyPrice,
		Reused:       reused,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal phone metadata: %w", err)
	}

	return &clients.ProvisionedResource{
		ResourceID:   providerSID,
		EnvKey:       "PHONE_NUMBER",
		EnvValue:     phoneNumber,
		ResourceMeta: meta,
	}, nil
}
