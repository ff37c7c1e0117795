package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

type pairKey struct {
	storeID string
	ct      content.Type
}

// Memory is an in-process Store used by tests and the local CLI. It applies
// the same constraints as the Postgres schema.
type Memory struct {
	mu        sync.Mutex
	datasets  map[string]*Dataset
	byPair    map[pairKey]string
	documents map[string]map[string]string
	shops     map[string]Shop
	runs      map[string]Run
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		datasets:  make(map[string]*Dataset),
		byPair:    make(map[pairKey]string),
		documents: make(map[string]map[string]string),
		shops:     make(map[string]Shop),
		runs:      make(map[string]Run),
		now:       time.Now,
	}
}

func (m *Memory) clone(d *Dataset) *Dataset {
	c := *d
	c.BatchIDs = slices.Clone(d.BatchIDs)
	if c.BatchIDs == nil {
		c.BatchIDs = []string{}
	}
	return &c
}

func (m *Memory) FindDataset(_ context.Context, storeID string, ct content.Type) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[pairKey{storeID, ct}]
	if !ok {
		return nil, nil
	}
	return m.clone(m.datasets[id]), nil
}

func (m *Memory) CreateDataset(_ context.Context, d Dataset) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{d.StoreID, d.ContentType}
	if id, ok := m.byPair[key]; ok {
		return m.clone(m.datasets[id]), apperrors.ErrDatasetExists
	}
	if _, ok := m.datasets[d.ID]; ok {
		return nil, fmt.Errorf("%w: dataset id %s already used", apperrors.ErrStateStore, d.ID)
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.Status == StatusCompleted && len(d.BatchIDs) > 0 {
		return nil, apperrors.ErrInvalidState
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	d.BatchIDs = slices.Clone(d.BatchIDs)
	m.datasets[d.ID] = &d
	m.byPair[key] = d.ID
	return m.clone(&d), nil
}

func (m *Memory) get(datasetID string) (*Dataset, error) {
	d, ok := m.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, apperrors.ErrNotFound)
	}
	return d, nil
}

func (m *Memory) UpsertDatasetBatch(_ context.Context, datasetID string, ct content.Type, storeID, batchID string, status DatasetStatus) error {
	if status == StatusCompleted {
		return fmt.Errorf("%w: cannot add a batch to a completed dataset", apperrors.ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[datasetID]
	if !ok {
		key := pairKey{storeID, ct}
		if _, taken := m.byPair[key]; taken {
			return apperrors.ErrDatasetExists
		}
		d = &Dataset{ID: datasetID, StoreID: storeID, ContentType: ct, CreatedAt: m.now()}
		m.datasets[datasetID] = d
		m.byPair[key] = datasetID
	}
	if !slices.Contains(d.BatchIDs, batchID) {
		d.BatchIDs = append(d.BatchIDs, batchID)
	}
	d.Status = status
	d.UpdatedAt = m.now()
	return nil
}

func (m *Memory) RemoveBatch(_ context.Context, datasetID, storeID, batchID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(datasetID)
	if err != nil {
		return nil, err
	}
	if d.StoreID != storeID {
		return nil, fmt.Errorf("dataset %s for store %s: %w", datasetID, storeID, apperrors.ErrNotFound)
	}
	d.BatchIDs = slices.DeleteFunc(d.BatchIDs, func(id string) bool { return id == batchID })
	if len(d.BatchIDs) == 0 && d.Status == StatusIndexing {
		d.Status = StatusCompleted
	}
	d.UpdatedAt = m.now()
	return slices.Clone(d.BatchIDs), nil
}

func (m *Memory) SetStatus(_ context.Context, datasetID string, status DatasetStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(datasetID)
	if err != nil {
		return err
	}
	if status == StatusCompleted && len(d.BatchIDs) > 0 {
		return fmt.Errorf("%w: %d batches outstanding", apperrors.ErrInvalidState, len(d.BatchIDs))
	}
	d.Status = status
	d.UpdatedAt = m.now()
	return nil
}

func (m *Memory) FinishRun(_ context.Context, datasetID string, failed bool) (DatasetStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(datasetID)
	if err != nil {
		return "", err
	}
	d.Status = settle(len(d.BatchIDs), failed)
	d.UpdatedAt = m.now()
	return d.Status, nil
}

func (m *Memory) list(match func(*Dataset) bool) []Dataset {
	var out []Dataset
	for _, d := range m.datasets {
		if match(d) {
			out = append(out, *m.clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentType < out[j].ContentType })
	return out
}

func (m *Memory) ListDatasets(_ context.Context, storeID string) ([]Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(d *Dataset) bool { return d.StoreID == storeID }), nil
}

func (m *Memory) ListDatasetsByStatus(_ context.Context, storeID string, status DatasetStatus) ([]Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(d *Dataset) bool { return d.StoreID == storeID && d.Status == status }), nil
}

func (m *Memory) ListStoresWithStatus(_ context.Context, status DatasetStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, d := range m.datasets {
		if d.Status == status && !seen[d.StoreID] {
			seen[d.StoreID] = true
			out = append(out, d.StoreID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeleteDataset(_ context.Context, storeID string, ct content.Type) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{storeID, ct}
	id, ok := m.byPair[key]
	if !ok {
		return nil, nil
	}
	d := m.clone(m.datasets[id])
	delete(m.byPair, key)
	delete(m.datasets, id)
	delete(m.documents, id)
	return d, nil
}

func (m *Memory) FindDocument(_ context.Context, datasetID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documents[datasetID][name], nil
}

func (m *Memory) SaveDocument(_ context.Context, datasetID, name, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(datasetID); err != nil {
		return err
	}
	docs, ok := m.documents[datasetID]
	if !ok {
		docs = make(map[string]string)
		m.documents[datasetID] = docs
	}
	docs[name] = documentID
	return nil
}

func (m *Memory) GetShop(_ context.Context, storeID string) (*Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shops[storeID]
	if !ok {
		return nil, fmt.Errorf("shop %s: %w", storeID, apperrors.ErrNotFound)
	}
	return &s, nil
}

func (m *Memory) UpsertShop(_ context.Context, shop Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[shop.ID] = shop
	return nil
}

func (m *Memory) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s exists", apperrors.ErrStateStore, run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = m.now()
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, apperrors.ErrNotFound)
	}
	run.CreatedAt = existing.CreatedAt
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
	}
	return &run, nil
}
