package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/postgres"
)

const datasetColumns = `id, store_id, content_type, status, batch_ids, created_at, updated_at`

// Postgres is the production Store. The (store_id, content_type) UNIQUE
// constraint and the completed-has-no-batches CHECK back the interface
// guarantees.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "state-store"),
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrStateStore, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*Dataset, error) {
	var d Dataset
	var ct, status string
	if err := row.Scan(&d.ID, &d.StoreID, &ct, &status, pq.Array(&d.BatchIDs), &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ContentType = content.Type(ct)
	d.Status = DatasetStatus(status)
	if d.BatchIDs == nil {
		d.BatchIDs = []string{}
	}
	return &d, nil
}

func (p *Postgres) FindDataset(ctx context.Context, storeID string, ct content.Type) (*Dataset, error) {
	d, err := scanDataset(p.db.DB.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE store_id = $1 AND content_type = $2`,
		storeID, string(ct)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("finding dataset", err)
	}
	return d, nil
}

func (p *Postgres) CreateDataset(ctx context.Context, d Dataset) (*Dataset, error) {
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.BatchIDs == nil {
		d.BatchIDs = []string{}
	}
	created, err := scanDataset(p.db.DB.QueryRowContext(ctx,
		`INSERT INTO datasets (id, store_id, content_type, status, batch_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (store_id, content_type) DO NOTHING
		RETURNING `+datasetColumns,
		d.ID, d.StoreID, string(d.ContentType), string(d.Status), pq.Array(d.BatchIDs)))
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := p.FindDataset(ctx, d.StoreID, d.ContentType)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, storeErr("creating dataset", fmt.Errorf("conflicting row for %s/%s vanished", d.StoreID, d.ContentType))
		}
		p.logger.Info("dataset already exists, using existing row",
			"store_id", d.StoreID,
			"content_type", d.ContentType,
			"dataset_id", existing.ID,
		)
		return existing, apperrors.ErrDatasetExists
	}
	if err != nil {
		return nil, storeErr("creating dataset", err)
	}
	return created, nil
}

func (p *Postgres) UpsertDatasetBatch(ctx context.Context, datasetID string, ct content.Type, storeID, batchID string, status DatasetStatus) error {
	if status == StatusCompleted {
		return fmt.Errorf("%w: cannot add a batch to a completed dataset", apperrors.ErrInvalidState)
	}
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO datasets (id, store_id, content_type, status, batch_ids)
		VALUES ($1, $2, $3, $4, ARRAY[$5::text])
		ON CONFLICT (id) DO UPDATE SET
			batch_ids = CASE WHEN $5::text = ANY(datasets.batch_ids)
				THEN datasets.batch_ids
				ELSE array_append(datasets.batch_ids, $5::text) END,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		datasetID, storeID, string(ct), string(status), batchID)
	if postgres.IsUniqueViolation(err) {
		return apperrors.ErrDatasetExists
	}
	if err != nil {
		return storeErr("upserting dataset batch", err)
	}
	return nil
}

func (p *Postgres) RemoveBatch(ctx context.Context, datasetID, storeID, batchID string) ([]string, error) {
	var remaining []string
	err := p.db.DB.QueryRowContext(ctx,
		`UPDATE datasets SET
			batch_ids = array_remove(batch_ids, $3::text),
			status = CASE
				WHEN status = 'INDEXING' AND cardinality(array_remove(batch_ids, $3::text)) = 0 THEN 'COMPLETED'
				ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND store_id = $2
		RETURNING batch_ids`,
		datasetID, storeID, batchID).Scan(pq.Array(&remaining))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s for store %s: %w", datasetID, storeID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("removing batch", err)
	}
	if remaining == nil {
		remaining = []string{}
	}
	return remaining, nil
}

func (p *Postgres) SetStatus(ctx context.Context, datasetID string, status DatasetStatus) error {
	var outstanding int
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT cardinality(batch_ids) FROM datasets WHERE id = $1 FOR UPDATE`, datasetID).Scan(&outstanding); err != nil {
			return err
		}
		if status == StatusCompleted && outstanding > 0 {
			return fmt.Errorf("%w: %d batches outstanding", apperrors.ErrInvalidState, outstanding)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE datasets SET status = $2, updated_at = NOW() WHERE id = $1`, datasetID, string(status))
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("dataset %s: %w", datasetID, apperrors.ErrNotFound)
	case errors.Is(err, apperrors.ErrInvalidState):
		return err
	case err != nil:
		return storeErr("setting status", err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, datasetID string, failed bool) (DatasetStatus, error) {
	var status string
	err := p.db.DB.QueryRowContext(ctx,
		`UPDATE datasets SET
			status = CASE
				WHEN cardinality(batch_ids) > 0 THEN 'INDEXING'
				WHEN $2::boolean THEN 'ERROR'
				ELSE 'COMPLETED' END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status`,
		datasetID, failed).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("dataset %s: %w", datasetID, apperrors.ErrNotFound)
	}
	if err != nil {
		return "", storeErr("finishing run", err)
	}
	return DatasetStatus(status), nil
}

func (p *Postgres) queryDatasets(ctx context.Context, op, query string, args ...any) ([]Dataset, error) {
	rows, err := p.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (p *Postgres) ListDatasets(ctx context.Context, storeID string) ([]Dataset, error) {
	return p.queryDatasets(ctx, "listing datasets",
		`SELECT `+datasetColumns+` FROM datasets WHERE store_id = $1 ORDER BY content_type`, storeID)
}

func (p *Postgres) ListDatasetsByStatus(ctx context.Context, storeID string, status DatasetStatus) ([]Dataset, error) {
	return p.queryDatasets(ctx, "listing datasets by status",
		`SELECT `+datasetColumns+` FROM datasets WHERE store_id = $1 AND status = $2 ORDER BY content_type`,
		storeID, string(status))
}

func (p *Postgres) ListStoresWithStatus(ctx context.Context, status DatasetStatus) ([]string, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT DISTINCT store_id FROM datasets WHERE status = $1 ORDER BY store_id`, string(status))
	if err != nil {
		return nil, storeErr("listing stores", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("listing stores", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing stores", err)
	}
	return out, nil
}

func (p *Postgres) DeleteDataset(ctx context.Context, storeID string, ct content.Type) (*Dataset, error) {
	d, err := scanDataset(p.db.DB.QueryRowContext(ctx,
		`DELETE FROM datasets WHERE store_id = $1 AND content_type = $2 RETURNING `+datasetColumns,
		storeID, string(ct)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("deleting dataset", err)
	}
	return d, nil
}

func (p *Postgres) FindDocument(ctx context.Context, datasetID, name string) (string, error) {
	var id string
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT document_id FROM dataset_documents WHERE dataset_id = $1 AND name = $2`,
		datasetID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("finding document", err)
	}
	return id, nil
}

func (p *Postgres) SaveDocument(ctx context.Context, datasetID, name, documentID string) error {
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO dataset_documents (dataset_id, name, document_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset_id, name) DO UPDATE SET document_id = EXCLUDED.document_id, updated_at = NOW()`,
		datasetID, name, documentID)
	if err != nil {
		return storeErr("saving document", err)
	}
	return nil
}

func (p *Postgres) GetShop(ctx context.Context, storeID string) (*Shop, error) {
	var s Shop
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT id, access_token FROM stores WHERE id = $1`, storeID).Scan(&s.ID, &s.AccessToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shop %s: %w", storeID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("loading shop", err)
	}
	return &s, nil
}

func (p *Postgres) UpsertShop(ctx context.Context, shop Shop) error {
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO stores (id, access_token) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET access_token = EXCLUDED.access_token, updated_at = NOW()`,
		shop.ID, shop.AccessToken)
	if err != nil {
		return storeErr("saving shop", err)
	}
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, run Run) error {
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, store_id, content_type, status, message)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.StoreID, string(run.ContentType), string(run.Status), run.Message)
	if err != nil {
		return storeErr("creating run", err)
	}
	return nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run Run) error {
	res, err := p.db.DB.ExecContext(ctx,
		`UPDATE ingestion_runs SET
			status = $2, message = $3, records = $4, chunks_indexed = $5, chunks_failed = $6, finished_at = $7
		WHERE id = $1`,
		run.ID, string(run.Status), run.Message, run.Records, run.ChunksIndexed, run.ChunksFailed, run.FinishedAt)
	if err != nil {
		return storeErr("updating run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	var ct, status string
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT id, store_id, content_type, status, message, records, chunks_indexed, chunks_failed, created_at, finished_at
		FROM ingestion_runs WHERE id = $1`, id).Scan(
		&r.ID, &r.StoreID, &ct, &status, &r.Message, &r.Records, &r.ChunksIndexed, &r.ChunksFailed, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("loading run", err)
	}
	r.ContentType = content.Type(ct)
	r.Status = RunStatus(status)
	return &r, nil
}
