package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/workshop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

type stubRepo struct {
	products []models.Product
	err      error
}

func (s *stubRepo) FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.Product
	for _, p := range s.products {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepo) ListAtOrBelow(ctx context.Context, threshold int) ([]models.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Product
	for _, p := range s.products {
		if p.CurrentStock <= threshold {
			out = append(out, p)
		}
	}
	return out, nil
}

type capturePublisher struct {
	channel  string
	payloads [][]byte
	failSKU  string
}

func (c *capturePublisher) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	var alert LowStockAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return 0, err
	}
	if c.failSKU != "" && alert.SKU == c.failSKU {
		return 0, errors.New("connection reset")
	}
	c.channel = channel
	c.payloads = append(c.payloads, payload)
	return 1, nil
}

func (c *capturePublisher) alerts(t *testing.T) []LowStockAlert {
	t.Helper()
	out := make([]LowStockAlert, 0, len(c.payloads))
	for _, payload := range c.payloads {
		var alert LowStockAlert
		require.NoError(t, json.Unmarshal(payload, &alert))
		out = append(out, alert)
	}
	return out
}

func newNotifier(t *testing.T, repo Repository, pub Publisher, enabled bool) *LowStockNotifier {
	t.Helper()
	n, err := NewLowStockNotifier(LowStockParams{
		Repository: repo,
		Publisher:  pub,
		Logger:     logger.Nop(),
		Channel:    "workshop:low-stock",
		Threshold:  10,
		Enabled:    enabled,
	})
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return n
}

func TestNewLowStockNotifierValidation(t *testing.T) {
	_, err := NewLowStockNotifier(LowStockParams{Logger: logger.Nop()})
	assert.Error(t, err)

	_, err = NewLowStockNotifier(LowStockParams{Repository: &stubRepo{}, Logger: logger.Nop(), Enabled: true, Channel: "c"})
	assert.Error(t, err, "publisher is required when enabled")

	_, err = NewLowStockNotifier(LowStockParams{Repository: &stubRepo{}, Logger: logger.Nop(), Threshold: -1})
	assert.Error(t, err)

	n, err := NewLowStockNotifier(LowStockParams{Repository: &stubRepo{}, Logger: logger.Nop(), Threshold: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n.Threshold())
}

func TestStockChangedPublishesOnlyLowProducts(t *testing.T) {
	empty := models.Product{ID: uuid.New(), SKU: "RING-0", Name: "Ring <gold>", CurrentStock: 0}
	edge := models.Product{ID: uuid.New(), SKU: "CHAIN-10", Name: "Chain", CurrentStock: 10}
	plenty := models.Product{ID: uuid.New(), SKU: "PENDANT-11", Name: "Pendant", CurrentStock: 11}
	pub := &capturePublisher{}
	n := newNotifier(t, &stubRepo{products: []models.Product{empty, edge, plenty}}, pub, true)

	require.NoError(t, n.StockChanged(context.Background(), []uuid.UUID{empty.ID, edge.ID, plenty.ID}))

	alerts := pub.alerts(t)
	require.Len(t, alerts, 2)
	assert.Equal(t, "workshop:low-stock", pub.channel)

	bySKU := map[string]LowStockAlert{}
	for _, a := range alerts {
		bySKU[a.SKU] = a
	}
	out := bySKU["RING-0"]
	assert.Equal(t, SeverityOutOfStock, out.Severity)
	assert.Equal(t, EventLowStock, out.Event)
	assert.Equal(t, 10, out.Threshold)
	assert.Equal(t, "HTML", out.ParseMode)
	assert.Contains(t, out.Text, "Ring &lt;gold&gt;")
	assert.Contains(t, out.Text, "<code>RING-0</code>")
	assert.Equal(t, SeverityCritical, bySKU["CHAIN-10"].Severity)
}

func TestStockChangedDisabledIsSilent(t *testing.T) {
	product := models.Product{ID: uuid.New(), SKU: "RING-1", CurrentStock: 0}
	n := newNotifier(t, &stubRepo{products: []models.Product{product}}, nil, false)

	require.NoError(t, n.StockChanged(context.Background(), []uuid.UUID{product.ID}))
	count, err := n.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStockChangedSurfacesRepositoryError(t *testing.T) {
	n := newNotifier(t, &stubRepo{err: errors.New("db down")}, &capturePublisher{}, true)
	err := n.StockChanged(context.Background(), []uuid.UUID{uuid.New()})
	assert.ErrorContains(t, err, "db down")
}

func TestSweepAggregatesPublishFailures(t *testing.T) {
	products := []models.Product{
		{ID: uuid.New(), SKU: "A", CurrentStock: 1},
		{ID: uuid.New(), SKU: "B", CurrentStock: 2},
		{ID: uuid.New(), SKU: "C", CurrentStock: 3},
		{ID: uuid.New(), SKU: "D", CurrentStock: 50},
	}
	pub := &capturePublisher{failSKU: "B"}
	n := newNotifier(t, &stubRepo{products: products}, pub, true)

	published, err := n.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, published)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorContains(t, err, "product B")
}

func TestRepositoryQueries(t *testing.T) {
	client := dbtest.Open(t)
	low := dbtest.SeedProduct(t, client.DB(), "LOW-1", 2)
	dbtest.SeedProduct(t, client.DB(), "HIGH-1", 40)
	zero := dbtest.SeedProduct(t, client.DB(), "ZERO-1", 0)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	found, err := repo.ListAtOrBelow(ctx, 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, zero.ID, found[0].ID)
	assert.Equal(t, low.ID, found[1].ID)

	byID, err := repo.FindProducts(ctx, []uuid.UUID{low.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "LOW-1", byID[0].SKU)

	none, err := repo.FindProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
