package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

type fakeRunner struct {
	got []ingestion.Request
	err error
}

func (f *fakeRunner) Run(_ context.Context, req ingestion.Request) (*ingestion.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return &ingestion.Result{RunID: req.RunID}, f.err
	}
	return &ingestion.Result{RunID: req.RunID, Records: 3}, nil
}

func encode(t *testing.T, e ingestion.IngestionRequested) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandleMessageRunsRequest(t *testing.T) {
	r := &fakeRunner{}
	h := HandleMessage(r)
	err := h(context.Background(), []byte("k"), encode(t, ingestion.IngestionRequested{
		RunID:       "r1",
		StoreID:     "demo.myshopify.com",
		ContentType: content.Orders,
		PageSize:    25,
	}))
	require.NoError(t, err)
	require.Len(t, r.got, 1)
	assert.Equal(t, "r1", r.got[0].RunID)
	assert.Equal(t, 25, r.got[0].PageSize)
}

func TestHandleMessageDropsUndecodable(t *testing.T) {
	r := &fakeRunner{}
	assert.NoError(t, HandleMessage(r)(context.Background(), nil, []byte("{")))
	assert.Empty(t, r.got)
}

func TestHandleMessageCommitsFailedRuns(t *testing.T) {
	r := &fakeRunner{err: apperrors.ErrRunInProgress}
	assert.NoError(t, HandleMessage(r)(context.Background(), nil, encode(t, ingestion.IngestionRequested{RunID: "r"})))

	r.err = errors.New("boom")
	assert.NoError(t, HandleMessage(r)(context.Background(), nil, encode(t, ingestion.IngestionRequested{RunID: "r"})))
}

func TestHandleMessageRedeliversOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{err: context.Canceled}
	assert.Error(t, HandleMessage(r)(ctx, nil, encode(t, ingestion.IngestionRequested{RunID: "r"})))
}
