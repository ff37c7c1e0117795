package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/kafka"
)

type captureProducer struct {
	events []kafka.Event
	err    error
}

func (c *captureProducer) Publish(_ context.Context, e kafka.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func TestTriggerRecordsRunAndPublishes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.UpsertShop(ctx, store.Shop{ID: "demo.myshopify.com", AccessToken: "t"}))
	prod := &captureProducer{}
	p := New(st, prod)

	resp, err := p.Trigger(ctx, "demo.myshopify.com", content.Orders, &ingestion.TriggerRequest{
		ContentType:   "orders",
		ExcludeEmails: []string{"staff@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", resp.Status)

	run, err := st.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunPending, run.Status)

	require.Len(t, prod.events, 1)
	assert.Equal(t, "demo.myshopify.com|orders", prod.events[0].Key)
	raw, err := json.Marshal(prod.events[0].Value)
	require.NoError(t, err)
	event, err := kafka.DecodeJSON[ingestion.IngestionRequested](raw)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, event.RunID)
	assert.Equal(t, []string{"staff@example.com"}, event.ExcludeEmails)
}

func TestTriggerRequiresRegisteredShop(t *testing.T) {
	p := New(store.NewMemory(), &captureProducer{})
	_, err := p.Trigger(context.Background(), "ghost.myshopify.com", content.Products, &ingestion.TriggerRequest{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
}

func TestTriggerFreeTextSkipsShopLookup(t *testing.T) {
	prod := &captureProducer{}
	p := New(store.NewMemory(), prod)
	_, err := p.Trigger(context.Background(), "ghost.myshopify.com", content.SystemPrompt, &ingestion.TriggerRequest{Text: "Be polite."})
	require.NoError(t, err)
	assert.Len(t, prod.events, 1)
}

func TestTriggerMarksRunFailedWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := New(st, &captureProducer{err: errors.New("broker down")})

	_, err := p.Trigger(ctx, "demo.myshopify.com", content.FAQ, &ingestion.TriggerRequest{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}
