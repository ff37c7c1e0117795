package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

func TestCreateDatasetReturnsExistingOnConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.CreateDataset(ctx, Dataset{ID: "ds-1", StoreID: "shop", ContentType: content.Orders})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	second, err := m.CreateDataset(ctx, Dataset{ID: "ds-2", StoreID: "shop", ContentType: content.Orders})
	assert.ErrorIs(t, err, apperrors.ErrDatasetExists)
	require.NotNil(t, second)
	assert.Equal(t, "ds-1", second.ID)

	other, err := m.CreateDataset(ctx, Dataset{ID: "ds-3", StoreID: "shop", ContentType: content.Products})
	require.NoError(t, err)
	assert.Equal(t, "ds-3", other.ID)
}

func TestConcurrentCreateKeepsOneDataset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, _ := m.CreateDataset(ctx, Dataset{
				ID:          "ds-" + string(rune('a'+i)),
				StoreID:     "shop",
				ContentType: content.FAQ,
			})
			ids[i] = d.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := m.ListDatasets(ctx, "shop")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateDataset(ctx, Dataset{ID: "ds", StoreID: "shop", ContentType: content.Products})
	require.NoError(t, err)

	require.NoError(t, m.UpsertDatasetBatch(ctx, "ds", content.Products, "shop", "b1", StatusSyncing))
	require.NoError(t, m.UpsertDatasetBatch(ctx, "ds", content.Products, "shop", "b2", StatusSyncing))
	require.NoError(t, m.UpsertDatasetBatch(ctx, "ds", content.Products, "shop", "b1", StatusSyncing))

	d, err := m.FindDataset(ctx, "shop", content.Products)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, d.BatchIDs)

	err = m.SetStatus(ctx, "ds", StatusCompleted)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	status, err := m.FinishRun(ctx, "ds", false)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexing, status)

	remaining, err := m.RemoveBatch(ctx, "ds", "shop", "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, remaining)

	remaining, err = m.RemoveBatch(ctx, "ds", "shop", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, remaining)

	remaining, err = m.RemoveBatch(ctx, "ds", "shop", "b2")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	d, err = m.FindDataset(ctx, "shop", content.Products)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, d.Status)
}

func TestUpsertRejectsCompleted(t *testing.T) {
	m := NewMemory()
	err := m.UpsertDatasetBatch(context.Background(), "ds", content.Orders, "shop", "b1", StatusCompleted)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestFinishRunSettles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateDataset(ctx, Dataset{ID: "ds", StoreID: "shop", ContentType: content.Orders})
	require.NoError(t, err)

	status, err := m.FinishRun(ctx, "ds", true)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)

	status, err = m.FinishRun(ctx, "ds", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	_, err = m.FinishRun(ctx, "nope", false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRemoveBatchChecksStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertDatasetBatch(ctx, "ds", content.Orders, "shop", "b1", StatusIndexing))

	_, err := m.RemoveBatch(ctx, "ds", "other-shop", "b1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListStoresWithStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertDatasetBatch(ctx, "a1", content.Orders, "shop-a", "b", StatusIndexing))
	require.NoError(t, m.UpsertDatasetBatch(ctx, "a2", content.Products, "shop-a", "b", StatusIndexing))
	require.NoError(t, m.UpsertDatasetBatch(ctx, "b1", content.Orders, "shop-b", "b", StatusIndexing))
	require.NoError(t, m.UpsertDatasetBatch(ctx, "c1", content.Orders, "shop-c", "b", StatusSyncing))

	stores, err := m.ListStoresWithStatus(ctx, StatusIndexing)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-a", "shop-b"}, stores)

	indexing, err := m.ListDatasetsByStatus(ctx, "shop-a", StatusIndexing)
	require.NoError(t, err)
	assert.Len(t, indexing, 2)
}

func TestDeleteDatasetDropsDocuments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateDataset(ctx, Dataset{ID: "ds", StoreID: "shop", ContentType: content.Policies})
	require.NoError(t, err)
	require.NoError(t, m.SaveDocument(ctx, "ds", "policies-1~1", "doc-1"))

	id, err := m.FindDocument(ctx, "ds", "policies-1~1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	deleted, err := m.DeleteDataset(ctx, "shop", content.Policies)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "ds", deleted.ID)

	id, err = m.FindDocument(ctx, "ds", "policies-1~1")
	require.NoError(t, err)
	assert.Empty(t, id)

	deleted, err = m.DeleteDataset(ctx, "shop", content.Policies)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRun(ctx, Run{ID: "r1", StoreID: "shop", ContentType: content.Orders, Status: RunPending}))
	assert.Error(t, m.CreateRun(ctx, Run{ID: "r1"}))

	require.NoError(t, m.UpdateRun(ctx, Run{ID: "r1", StoreID: "shop", ContentType: content.Orders, Status: RunSucceeded, Records: 3}))
	run, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, run.Status)
	assert.Equal(t, 3, run.Records)
	assert.False(t, run.CreatedAt.IsZero())

	_, err = m.GetRun(ctx, "r2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
