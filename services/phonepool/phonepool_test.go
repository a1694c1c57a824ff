package phonepool

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentpool/clients"
	"agentpool/clients/phonenumbers"
	"agentpool/models"
)

const testInstanceID = "inst_01ARZ3NDEKTSV4RRFFQ69G5FAV"

// MockPhoneNumbersRepository is a mock implementation of PhoneNumbersRepository
type MockPhoneNumbersRepository struct {
	mock.Mock
}

func (m *MockPhoneNumbersRepository) InsertPhoneNumber(ctx context.Context, number *models.PoolPhoneNumber) error {
	args := m.Called(ctx, number)
	return args.Error(0)
}

func (m *MockPhoneNumbersRepository) ClaimAvailablePhoneNumber(
	ctx context.Context,
	instanceID string,
) (mo.Option[*models.PoolPhoneNumber], error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).(mo.Option[*models.PoolPhoneNumber]), args.Error(1)
}

func (m *MockPhoneNumbersRepository) ReleasePhoneNumber(ctx context.Context, providerSID string) (bool, error) {
	args := m.Called(ctx, providerSID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPhoneNumbersRepository) GetAllPhoneNumbers(ctx context.Context) ([]*models.PoolPhoneNumber, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PoolPhoneNumber), args.Error(1)
}

// MockUpstreamClient is a mock implementation of UpstreamClient
type MockUpstreamClient struct {
	mock.Mock
}

func (m *MockUpstreamClient) SearchAvailableNumbers(
	ctx context.Context,
	limit int,
) ([]phonenumbers.AvailableNumber, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]phonenumbers.AvailableNumber), args.Error(1)
}

func (m *MockUpstreamClient) PurchaseNumber(
	ctx context.Context,
	phoneNumber string,
) (*phonenumbers.PurchasedNumber, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*phonenumbers.PurchasedNumber), args.Error(1)
}

func (m *MockUpstreamClient) AssignToMessagingProfile(ctx context.Context, numberSID string) error {
	args := m.Called(ctx, numberSID)
	return args.Error(0)
}

func (m *MockUpstreamClient) UnassignFromMessagingProfile(ctx context.Context, numberSID string) error {
	args := m.Called(ctx, numberSID)
	return args.Error(0)
}

func (m *MockUpstreamClient) ListNumbers(ctx context.Context) ([]clients.LiveResource, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]clients.LiveResource), args.Error(1)
}

func (m *MockUpstreamClient) ReleaseNumberUpstream(ctx context.Context, numberSID string) (bool, error) {
	args := m.Called(ctx, numberSID)
	return args.Bool(0), args.Error(1)
}

func pooledNumber(sid, number string) *models.PoolPhoneNumber {
	price := "1.00"
	return &models.PoolPhoneNumber{
		ID:           "phn_01ARZ3NDEKTSV4RRFFQ69G5FAV",
		PhoneNumber:  number,
		ProviderSID:  sid,
		MonthlyPrice: &price,
		Status:       models.PhoneNumberStatusAssigned,
	}
}

func decodeMeta(t *testing.T, resource *clients.ProvisionedResource) phoneMeta {
	t.Helper()
	var meta phoneMeta
	require.NoError(t, json.Unmarshal(resource.ResourceMeta, &meta))
	return meta
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("ReusesPooledNumber", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.Some(pooledNumber("sid-1", "+15550000001")), nil)
		upstream.On("AssignToMessagingProfile", ctx, "sid-1").Return(nil)

		resource, err := provider.Create(ctx, testInstanceID)

		require.NoError(t, err)
		assert.Equal(t, "sid-1", resource.ResourceID)
		assert.Equal(t, "PHONE_NUMBER", resource.EnvKey)
		assert.Equal(t, "+15550000001", resource.EnvValue)
		assert.True(t, decodeMeta(t, resource).Reused)
		upstream.AssertNotCalled(t, "SearchAvailableNumbers", ctx, mock.Anything)
	})

	t.Run("ReturnsNumberToPoolOnProfileFailure", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.Some(pooledNumber("sid-1", "+15550000001")), nil)
		upstream.On("AssignToMessagingProfile", ctx, "sid-1").
			Return(fmt.Errorf("profile not found"))
		repo.On("ReleasePhoneNumber", ctx, "sid-1").Return(true, nil)

		_, err := provider.Create(ctx, testInstanceID)

		require.Error(t, err)
		repo.AssertCalled(t, "ReleasePhoneNumber", ctx, "sid-1")
	})

	t.Run("PurchasesWhenPoolEmpty", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.None[*models.PoolPhoneNumber](), nil)
		upstream.On("SearchAvailableNumbers", ctx, searchBatchSize).
			Return([]phonenumbers.AvailableNumber{{PhoneNumber: "+15550000002"}}, nil)
		upstream.On("PurchaseNumber", ctx, "+15550000002").
			Return(&phonenumbers.PurchasedNumber{
				SID:          "sid-2",
				PhoneNumber:  "+15550000002",
				MonthlyPrice: "1.00",
			}, nil)
		upstream.On("AssignToMessagingProfile", ctx, "sid-2").Return(nil)
		repo.On("InsertPhoneNumber", ctx, mock.MatchedBy(func(n *models.PoolPhoneNumber) bool {
			return n.ProviderSID == "sid-2" &&
				n.Status == models.PhoneNumberStatusAssigned &&
				n.AssignedInstanceID != nil && *n.AssignedInstanceID == testInstanceID
		})).Return(nil)

		resource, err := provider.Create(ctx, testInstanceID)

		require.NoError(t, err)
		assert.Equal(t, "sid-2", resource.ResourceID)
		assert.False(t, decodeMeta(t, resource).Reused)
		upstream.AssertNumberOfCalls(t, "PurchaseNumber", 1)
	})

	t.Run("ConflictMovesToNextCandidate", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.None[*models.PoolPhoneNumber](), nil)
		upstream.On("SearchAvailableNumbers", ctx, searchBatchSize).
			Return([]phonenumbers.AvailableNumber{
				{PhoneNumber: "+15550000003"},
				{PhoneNumber: "+15550000004"},
			}, nil)
		upstream.On("PurchaseNumber", ctx, "+15550000003").
			Return(nil, fmt.Errorf("%w: +15550000003", phonenumbers.ErrNumberTaken))
		upstream.On("PurchaseNumber", ctx, "+15550000004").
			Return(&phonenumbers.PurchasedNumber{
				SID:          "sid-4",
				PhoneNumber:  "+15550000004",
				MonthlyPrice: "1.00",
			}, nil)
		upstream.On("AssignToMessagingProfile", ctx, "sid-4").Return(nil)
		repo.On("InsertPhoneNumber", ctx, mock.Anything).Return(nil)

		resource, err := provider.Create(ctx, testInstanceID)

		require.NoError(t, err)
		assert.Equal(t, "sid-4", resource.ResourceID)
		// Both purchases happen within one search batch
		upstream.AssertNumberOfCalls(t, "SearchAvailableNumbers", 1)
	})

	t.Run("PermanentPurchaseFailureFailsFast", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.None[*models.PoolPhoneNumber](), nil)
		upstream.On("SearchAvailableNumbers", ctx, searchBatchSize).
			Return([]phonenumbers.AvailableNumber{{PhoneNumber: "+15550000005"}}, nil)
		upstream.On("PurchaseNumber", ctx, "+15550000005").
			Return(nil, fmt.Errorf("account suspended"))

		_, err := provider.Create(ctx, testInstanceID)

		require.Error(t, err)
		upstream.AssertNumberOfCalls(t, "SearchAvailableNumbers", 1)
		upstream.AssertNumberOfCalls(t, "PurchaseNumber", 1)
	})

	t.Run("NoCandidatesAvailable", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		repo.On("ClaimAvailablePhoneNumber", ctx, testInstanceID).
			Return(mo.None[*models.PoolPhoneNumber](), nil)
		upstream.On("SearchAvailableNumbers", ctx, searchBatchSize).
			Return([]phonenumbers.AvailableNumber{}, nil)

		_, err := provider.Create(ctx, testInstanceID)

		require.Error(t, err)
		upstream.AssertNotCalled(t, "PurchaseNumber", ctx, mock.Anything)
	})
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()

	t.Run("ReleasesBackToPool", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		upstream.On("UnassignFromMessagingProfile", ctx, "sid-1").Return(nil)
		repo.On("ReleasePhoneNumber", ctx, "sid-1").Return(true, nil)

		destroyed, err := provider.Destroy(ctx, "sid-1")

		require.NoError(t, err)
		assert.True(t, destroyed)
	})

	t.Run("PooledNumberStaysPurchasedUpstream", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		upstream.On("UnassignFromMessagingProfile", ctx, "sid-1").Return(nil)
		repo.On("ReleasePhoneNumber", ctx, "sid-1").Return(true, nil)

		_, err := provider.Destroy(ctx, "sid-1")

		require.NoError(t, err)
		upstream.AssertNotCalled(t, "ReleaseNumberUpstream", ctx, "sid-1")
	})

	t.Run("UntrackedNumberReleasedUpstream", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		upstream.On("UnassignFromMessagingProfile", ctx, "sid-orphan").Return(nil)
		repo.On("ReleasePhoneNumber", ctx, "sid-orphan").Return(false, nil)
		upstream.On("ReleaseNumberUpstream", ctx, "sid-orphan").Return(true, nil)

		destroyed, err := provider.Destroy(ctx, "sid-orphan")

		require.NoError(t, err)
		assert.True(t, destroyed)
		upstream.AssertCalled(t, "ReleaseNumberUpstream", ctx, "sid-orphan")
	})

	t.Run("UntrackedNumberAlreadyGoneUpstream", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		upstream.On("UnassignFromMessagingProfile", ctx, "sid-gone").Return(nil)
		repo.On("ReleasePhoneNumber", ctx, "sid-gone").Return(false, nil)
		upstream.On("ReleaseNumberUpstream", ctx, "sid-gone").Return(false, nil)

		destroyed, err := provider.Destroy(ctx, "sid-gone")

		require.NoError(t, err)
		assert.False(t, destroyed)
	})
}

func TestListLive(t *testing.T) {
	ctx := context.Background()

	t.Run("ExcludesPooledAvailableNumbers", func(t *testing.T) {
		upstream := &MockUpstreamClient{}
		repo := &MockPhoneNumbersRepository{}
		provider := NewPhoneProvider(upstream, repo)

		upstream.On("ListNumbers", ctx).Return([]clients.LiveResource{
			{ResourceID: "sid-assigned", Name: "+15550000001"},
			{ResourceID: "sid-pooled", Name: "+15550000002"},
		}, nil)
		available := pooledNumber("sid-pooled", "+15550000002")
		available.Status = models.PhoneNumberStatusAvailable
		repo.On("GetAllPhoneNumbers", ctx).Return([]*models.PoolPhoneNumber{
			pooledNumber("sid-assigned", "+15550000001"),
			available,
		}, nil)

		live, err := provider.ListLive(ctx)

		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, "sid-assigned", live[0].ResourceID)
	})
}
