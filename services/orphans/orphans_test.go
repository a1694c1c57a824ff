package orphans

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentpool/clients"
	"agentpool/models"
	"agentpool/services/lifecycle"
)

// MockActiveResourcesStore is a mock implementation of ActiveResourcesStore
type MockActiveResourcesStore struct {
	mock.Mock
}

func (m *MockActiveResourcesStore) GetActiveResourceIDsByTool(
	ctx context.Context,
	toolID models.ToolKind,
) ([]string, error) {
	args := m.Called(ctx, toolID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestScan(t *testing.T) {
	ctx := context.Background()

	t.Run("ReportsOnlyUnreferencedResources", func(t *testing.T) {
		provider := &clients.MockResourceProvider{ProviderKind: models.ToolKindCredential}
		provider.On("ListLive", ctx).Return([]clients.LiveResource{
			{ResourceID: "key-active", Name: "agent-inst-active"},
			{ResourceID: "key-named", Name: "agent-inst-live"},
			{ResourceID: "key-orphan", Name: "agent-inst-gone"},
		}, nil)

		store := &MockActiveResourcesStore{}
		store.On("GetActiveResourceIDsByTool", ctx, models.ToolKindCredential).
			Return([]string{"key-active"}, nil)

		computeClient := &clients.MockComputeClient{}
		computeClient.On("ListServices", ctx).Return([]clients.ComputeService{
			{ID: "svc-1", Name: "agent-inst-live"},
		}, nil)

		scanner := NewScanner(
			lifecycle.ProviderRegistry{models.ToolKindCredential: provider},
			store,
			computeClient,
		)

		reports, err := scanner.Scan(ctx)

		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, models.ToolKindCredential, reports[0].Kind)
		require.Len(t, reports[0].Resources, 1)
		assert.Equal(t, "key-orphan", reports[0].Resources[0].ResourceID)
	})

	t.Run("MailboxMatchedByLocalPart", func(t *testing.T) {
		provider := &clients.MockResourceProvider{ProviderKind: models.ToolKindMailbox}
		provider.On("ListLive", ctx).Return([]clients.LiveResource{
			{ResourceID: "route-1", Name: "agent-inst-live@mail.example.com"},
			{ResourceID: "route-2", Name: "agent-inst-gone@mail.example.com"},
		}, nil)

		store := &MockActiveResourcesStore{}
		store.On("GetActiveResourceIDsByTool", ctx, models.ToolKindMailbox).
			Return([]string{}, nil)

		computeClient := &clients.MockComputeClient{}
		computeClient.On("ListServices", ctx).Return([]clients.ComputeService{
			{ID: "svc-1", Name: "agent-inst-live"},
		}, nil)

		scanner := NewScanner(
			lifecycle.ProviderRegistry{models.ToolKindMailbox: provider},
			store,
			computeClient,
		)

		reports, err := scanner.Scan(ctx)

		require.NoError(t, err)
		require.Len(t, reports, 1)
		require.Len(t, reports[0].Resources, 1)
		assert.Equal(t, "route-2", reports[0].Resources[0].ResourceID)
	})

	t.Run("ProviderListFailurePropagates", func(t *testing.T) {
		provider := &clients.MockResourceProvider{ProviderKind: models.ToolKindCredential}
		provider.On("ListLive", ctx).Return(nil, fmt.Errorf("upstream unavailable"))

		store := &MockActiveResourcesStore{}
		computeClient := &clients.MockComputeClient{}
		computeClient.On("ListServices", ctx).Return([]clients.ComputeService{}, nil)

		scanner := NewScanner(
			lifecycle.ProviderRegistry{models.ToolKindCredential: provider},
			store,
			computeClient,
		)

		_, err := scanner.Scan(ctx)

		require.Error(t, err)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("IsolatesFailures", func(t *testing.T) {
		provider := &clients.MockResourceProvider{ProviderKind: models.ToolKindCredential}
		provider.On("Destroy", ctx, "key-1").Return(false, fmt.Errorf("upstream 500"))
		provider.On("Destroy", ctx, "key-2").Return(true, nil)
		provider.On("Destroy", ctx, "key-3").Return(false, nil)

		scanner := NewScanner(
			lifecycle.ProviderRegistry{models.ToolKindCredential: provider},
			&MockActiveResourcesStore{},
			&clients.MockComputeClient{},
		)

		deleted, err := scanner.Delete(ctx, []Report{{
			Kind: models.ToolKindCredential,
			Resources: []clients.LiveResource{
				{ResourceID: "key-1", Name: "agent-a"},
				{ResourceID: "key-2", Name: "agent-b"},
				{ResourceID: "key-3", Name: "agent-c"},
			},
		}})

		require.NoError(t, err)
		// Only the confirmed destroy counts; the failure and the already-gone
		// resource do not
		assert.Equal(t, 1, deleted)
		provider.AssertNumberOfCalls(t, "Destroy", 3)
	})
}
