package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/indexing"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/metrics"
)

const testShop = "demo.myshopify.com"

type fakeIndexer struct {
	mu        sync.Mutex
	datasets  int
	created   []string
	updated   []string
	deleted   []string
	texts     map[string]string
	failNames map[string]bool
	staleDocs map[string]bool
	batches   int

	// createGate, when set, holds CreateDataset until it is closed or the
	// caller's ctx ends. createStarted is signalled on entry.
	createGate    chan struct{}
	createStarted chan struct{}
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		texts:     map[string]string{},
		failNames: map[string]bool{},
		staleDocs: map[string]bool{},
	}
}

func (f *fakeIndexer) CreateDataset(ctx context.Context, req indexing.CreateDatasetRequest) (*indexing.Dataset, error) {
	if f.createGate != nil {
		f.createStarted <- struct{}{}
		select {
		case <-f.createGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets++
	return &indexing.Dataset{ID: fmt.Sprintf("remote-%d", f.datasets), Name: req.Name}, nil
}

func (f *fakeIndexer) DeleteDataset(_ context.Context, datasetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, datasetID)
	return nil
}

func (f *fakeIndexer) result(name string) *indexing.DocumentResult {
	f.batches++
	return &indexing.DocumentResult{
		Document: indexing.Document{ID: "doc-" + name, Name: name},
		Batch:    "batch-" + strconv.Itoa(f.batches),
	}
}

func (f *fakeIndexer) CreateDocumentByText(_ context.Context, _ string, req indexing.CreateDocumentRequest) (*indexing.DocumentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNames[req.Name] {
		return nil, fmt.Errorf("creating document: %w", &indexing.APIError{StatusCode: http.StatusBadRequest, Code: "invalid_action"})
	}
	f.created = append(f.created, req.Name)
	f.texts[req.Name] = req.Text
	return f.result(req.Name), nil
}

func (f *fakeIndexer) UpdateDocumentByText(_ context.Context, _, documentID string, req indexing.UpdateDocumentRequest) (*indexing.DocumentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleDocs[documentID] {
		return nil, fmt.Errorf("updating document: %w", &indexing.APIError{StatusCode: http.StatusNotFound})
	}
	f.updated = append(f.updated, req.Name)
	f.texts[req.Name] = req.Text
	return f.result(req.Name), nil
}

type fakeSource struct {
	mu        sync.Mutex
	orders    []shopify.Order
	policies  []shopify.Policy
	throttles int
	orderErr  error
	filter    string
}

func (s *fakeSource) ShopDomain() string { return testShop }

func (s *fakeSource) FetchProducts(context.Context, string, int) (pipeline.Page[shopify.Product], error) {
	return pipeline.Page[shopify.Product]{Records: []shopify.Product{{ID: "gid://shopify/Product/1", Title: "Tea", Handle: "tea"}}}, nil
}

func (s *fakeSource) OrdersFetcher(filter string) pipeline.FetchFunc[shopify.Order] {
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
	return func(_ context.Context, cursor string, pageSize int) (pipeline.Page[shopify.Order], error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.throttles > 0 {
			s.throttles--
			return pipeline.Page[shopify.Order]{}, &shopify.ThrottledError{StatusCode: http.StatusTooManyRequests, Message: "Too Many Requests"}
		}
		if s.orderErr != nil {
			return pipeline.Page[shopify.Order]{}, s.orderErr
		}
		start := 0
		if cursor != "" {
			start, _ = strconv.Atoi(cursor)
		}
		end := min(start+pageSize, len(s.orders))
		page := pipeline.Page[shopify.Order]{Records: s.orders[start:end]}
		if end < len(s.orders) {
			page.HasNextPage = true
			page.EndCursor = strconv.Itoa(end)
		}
		return page, nil
	}
}

func (s *fakeSource) FetchPolicies(context.Context, string, int) (pipeline.Page[shopify.Policy], error) {
	return pipeline.Page[shopify.Policy]{Records: s.policies}, nil
}

func makeOrders(n int) []shopify.Order {
	out := make([]shopify.Order, n)
	for i := range out {
		out[i] = shopify.Order{
			ID:   fmt.Sprintf("gid://shopify/Order/%d", i+1),
			Name: fmt.Sprintf("#%d", 1000+i+1),
		}
	}
	return out
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type fixture struct {
	svc     *Service
	store   *store.Memory
	indexer *fakeIndexer
	source  *fakeSource
	metrics *metrics.Metrics
	sleeps  *sleepLog
	locker  *LocalLocker
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	mem := store.NewMemory()
	if st == nil {
		st = mem
	}
	require.NoError(t, mem.UpsertShop(context.Background(), store.Shop{ID: testShop, AccessToken: "shpat_test"}))
	if st != store.Store(mem) {
		require.NoError(t, st.UpsertShop(context.Background(), store.Shop{ID: testShop, AccessToken: "shpat_test"}))
	}

	cfg := config.Default()
	cfg.Shopify.PageSize = 60
	f := &fixture{
		store:   mem,
		indexer: newFakeIndexer(),
		source:  &fakeSource{},
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
		sleeps:  &sleepLog{},
		locker:  NewLocalLocker(),
	}
	f.svc = NewService(Deps{
		Store:   st,
		Indexer: f.indexer,
		Sources: func(store.Shop) Source { return f.source },
		Locker:  f.locker,
		Metrics: f.metrics,
		Sleep:   f.sleeps.sleep,
	}, cfg)
	return f
}

func TestRunOrdersChunksAcrossPages(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(250)
	ctx := context.Background()

	res, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)

	assert.Equal(t, 250, res.Records)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.ChunksIndexed)
	assert.Equal(t, []string{"orders-1~100", "orders-101~200", "orders-201~250"}, f.indexer.created)
	assert.Equal(t, 1, f.indexer.datasets)
	assert.Equal(t, 99, strings.Count(f.indexer.texts["orders-1~100"], "###"))

	d, err := f.store.FindDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", d.ID)
	assert.Equal(t, store.StatusIndexing, d.Status)
	assert.ElementsMatch(t, res.BatchIDs, d.BatchIDs)
	assert.Equal(t, string(store.StatusIndexing), res.DatasetStatus)

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, run.Status)
	assert.Equal(t, 250, run.Records)

	// five pages, four of which have a successor
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}, f.sleeps.delays)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.PagesFetchedTotal.WithLabelValues("orders")))
}

func TestRunSeparatesRecordsInChunk(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(3)

	_, err := f.svc.Run(context.Background(), Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)

	text := f.indexer.texts["orders-1~3"]
	assert.Equal(t, 2, strings.Count(text, "###"))
	assert.Contains(t, text, "Order number: #1001")
	assert.Contains(t, text, "Order ID: 3")
}

func TestRerunUpdatesExistingDocuments(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(150)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)

	assert.Equal(t, []string{"orders-1~100", "orders-101~150"}, f.indexer.created)
	assert.Equal(t, []string{"orders-1~100", "orders-101~150"}, f.indexer.updated)
	assert.Equal(t, 1, f.indexer.datasets)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ChunksTotal.WithLabelValues("orders", "update", "ok")))
}

func TestStaleDocumentIsRecreated(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(10)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)
	f.indexer.staleDocs["doc-orders-1~10"] = true

	_, err = f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-1~10", "orders-1~10"}, f.indexer.created)
	assert.Empty(t, f.indexer.updated)
}

func TestChunkFailureDoesNotStopRun(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(250)
	f.indexer.failNames["orders-101~200"] = true
	ctx := context.Background()

	res, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexing)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.ChunksIndexed)
	assert.Equal(t, 1, res.ChunksFailed)
	assert.True(t, res.Failed())
	assert.Equal(t, []string{"orders-1~100", "orders-201~250"}, f.indexer.created)

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, 1, run.ChunksFailed)

	d, err := f.store.FindDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, store.StatusIndexing, d.Status)
	assert.Len(t, d.BatchIDs, 2)
}

func TestSourceErrorAbortsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orderErr = errors.New("connection reset")
	ctx := context.Background()

	res, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	assert.ErrorIs(t, err, apperrors.ErrSourceFetch)
	require.NotNil(t, res)
	assert.Equal(t, string(store.StatusError), res.DatasetStatus)

	d, err := f.store.FindDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, d.Status)
	assert.Empty(t, f.indexer.created)
}

func TestThrottledPageIsRetriedWithGrowingDelay(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(5)
	f.source.throttles = 2

	res, err := f.svc.Run(context.Background(), Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Records)
	assert.Equal(t, []time.Duration{3 * time.Second, 4500 * time.Millisecond}, f.sleeps.delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ThrottleRetriesTotal.WithLabelValues("orders")))
}

func TestExcludeEmailsBecomesOrderFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(1)

	_, err := f.svc.Run(context.Background(), Request{
		StoreID:       testShop,
		ContentType:   content.Orders,
		ExcludeEmails: []string{"staff@example.com", "qa@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "NOT email:staff@example.com AND NOT email:qa@example.com", f.source.filter)
}

func TestFreeTextIsOneDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Run(ctx, Request{StoreID: "nokey.myshopify.com", ContentType: content.FAQ, Text: "  Q: Shipping?\nA: Two days.  "})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, []string{"faq-1~1"}, f.indexer.created)
	assert.Equal(t, "Q: Shipping?\nA: Two days.", f.indexer.texts["faq-1~1"])
}

func TestFreeTextRequiresText(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Run(context.Background(), Request{StoreID: testShop, ContentType: content.SystemPrompt})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Run(context.Background(), Request{StoreID: testShop, ContentType: content.Type("coupons")})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)
}

func TestUnknownShopFails(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Run(context.Background(), Request{StoreID: "other.myshopify.com", ContentType: content.Products})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	release, err := f.locker.Lock(ctx, lockKey(testShop, content.Orders))
	require.NoError(t, err)
	defer release(ctx)

	require.NoError(t, f.store.CreateRun(ctx, store.Run{ID: "queued", StoreID: testShop, ContentType: content.Orders, Status: store.RunPending}))
	_, err = f.svc.Run(ctx, Request{RunID: "queued", StoreID: testShop, ContentType: content.Orders})
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	run, err := f.store.GetRun(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
}

func TestQueuedRunRecordIsReused(t *testing.T) {
	f := newFixture(t, nil)
	f.source.policies = []shopify.Policy{{Title: "Refund policy", Body: "<p>30 days</p>"}}
	ctx := context.Background()
	require.NoError(t, f.store.CreateRun(ctx, store.Run{ID: "r-1", StoreID: testShop, ContentType: content.Policies, Status: store.RunPending}))

	res, err := f.svc.Run(ctx, Request{RunID: "r-1", StoreID: testShop, ContentType: content.Policies})
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.RunID)
	assert.Equal(t, "Refund policy\n\n30 days", f.indexer.texts["policies-1~1"])

	run, err := f.store.GetRun(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, run.Status)
}

// racyStore hides existing datasets from lookups, as if another process
// created one between our lookup and insert.
type racyStore struct {
	*store.Memory
}

func (racyStore) FindDataset(context.Context, string, content.Type) (*store.Dataset, error) {
	return nil, nil
}

func TestDatasetConflictDiscardsDuplicate(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.CreateDataset(ctx, store.Dataset{ID: "winner", StoreID: testShop, ContentType: content.Products})
	require.NoError(t, err)

	f := newFixture(t, racyStore{mem})
	res, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Products})
	require.NoError(t, err)
	assert.Equal(t, "winner", res.DatasetID)
	assert.Equal(t, []string{"remote-1"}, f.indexer.deleted)
}

// finishlessStore loses every FinishRun, as when the worker dies right after
// the last chunk. statuses records the explicit SetStatus calls.
type finishlessStore struct {
	*store.Memory
	mu       sync.Mutex
	statuses []store.DatasetStatus
}

func (s *finishlessStore) SetStatus(ctx context.Context, datasetID string, status store.DatasetStatus) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return s.Memory.SetStatus(ctx, datasetID, status)
}

func (s *finishlessStore) FinishRun(context.Context, string, bool) (store.DatasetStatus, error) {
	return "", errors.New("worker terminated")
}

func TestInterruptedRunLeavesDatasetVisibleToSweep(t *testing.T) {
	mem := store.NewMemory()
	st := &finishlessStore{Memory: mem}
	f := newFixture(t, st)
	f.source.orders = makeOrders(150)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.Error(t, err)

	d, err := mem.FindDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, store.StatusIndexing, d.Status)
	assert.Equal(t, []string{"batch-1", "batch-2"}, d.BatchIDs)

	stores, err := mem.ListStoresWithStatus(ctx, store.StatusIndexing)
	require.NoError(t, err)
	assert.Equal(t, []string{testShop}, stores)
	pending, err := mem.ListDatasetsByStatus(ctx, testShop, store.StatusIndexing)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].ID)
}

func TestRunKeepsOutstandingBatchesIndexing(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertDatasetBatch(ctx, "remote-0", content.Orders, testShop, "old-batch", store.StatusIndexing))
	st := &finishlessStore{Memory: mem}
	f := newFixture(t, st)
	f.source.orderErr = errors.New("connection reset")

	_, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.Error(t, err)

	assert.NotContains(t, st.statuses, store.StatusSyncing)
	d, err := mem.FindDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, store.StatusIndexing, d.Status)
	assert.Equal(t, []string{"old-batch"}, d.BatchIDs)
}

func TestFreshDatasetIsMarkedSyncing(t *testing.T) {
	st := &finishlessStore{Memory: store.NewMemory()}
	f := newFixture(t, st)
	f.source.orders = makeOrders(1)

	_, err := f.svc.Run(context.Background(), Request{StoreID: testShop, ContentType: content.Orders})
	require.Error(t, err)
	assert.Equal(t, []store.DatasetStatus{store.StatusSyncing}, st.statuses)
}

func TestCancelledCallerDoesNotFailSharedResolution(t *testing.T) {
	f := newFixture(t, nil)
	f.indexer.createGate = make(chan struct{})
	f.indexer.createStarted = make(chan struct{}, 1)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.resolveDataset(first, testShop, content.Products)
		firstErr <- err
	}()
	<-f.indexer.createStarted
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type outcome struct {
		d   *store.Dataset
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		d, err := f.svc.resolveDataset(context.Background(), testShop, content.Products)
		second <- outcome{d, err}
	}()
	time.Sleep(10 * time.Millisecond)
	close(f.indexer.createGate)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "remote-1", got.d.ID)
	assert.Equal(t, 1, f.indexer.datasets)
}

func TestDeleteDataset(t *testing.T) {
	f := newFixture(t, nil)
	f.source.orders = makeOrders(1)
	ctx := context.Background()
	_, err := f.svc.Run(ctx, Request{StoreID: testShop, ContentType: content.Orders})
	require.NoError(t, err)

	deleted, err := f.svc.DeleteDataset(ctx, testShop, content.Orders)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", deleted.ID)
	assert.Equal(t, []string{"remote-1"}, f.indexer.deleted)

	_, err = f.svc.DeleteDataset(ctx, testShop, content.Orders)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "orders-1~100", DocumentName(content.Orders, 0, 100))
	assert.Equal(t, "products-201~250", DocumentName(content.Products, 200, 250))
}

func TestDatasetName(t *testing.T) {
	assert.Equal(t, "demo-orders", datasetName("https://demo.myshopify.com/", content.Orders))
}
