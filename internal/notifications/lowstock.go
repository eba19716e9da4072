package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

// EventLowStock is the event name carried by every alert.
const EventLowStock = "stock.low"

// Severity grades how urgent a low-stock alert is.
type Severity string

const (
	SeverityOutOfStock Severity = "out_of_stock"
	SeverityCritical   Severity = "critical"
)

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// LowStockAlert is published for each product at or under the threshold.
// Text is preformatted HTML for the chat bot that relays the channel.
type LowStockAlert struct {
	Event        string    `json:"event"`
	ProductID    uuid.UUID `json:"product_id"`
	Name         string    `json:"name"`
	SKU          string    `json:"sku"`
	CurrentStock int       `json:"current_stock"`
	Threshold    int       `json:"threshold"`
	Severity     Severity  `json:"severity"`
	Text         string    `json:"text"`
	ParseMode    string    `json:"parse_mode"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// LowStockParams configure the notifier.
type LowStockParams struct {
	Repository Repository
	Publisher  Publisher
	Logger     *logger.Logger
	Channel    string
	Threshold  int
	Enabled    bool
}

// LowStockNotifier publishes low-stock alerts after stock changes and on sweeps.
type LowStockNotifier struct {
	repo      Repository
	publisher Publisher
	logg      *logger.Logger
	channel   string
	threshold int
	enabled   bool
	now       func() time.Time
}

// NewLowStockNotifier validates params and builds a notifier.
func NewLowStockNotifier(params LowStockParams) (*LowStockNotifier, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Enabled {
		if params.Publisher == nil {
			return nil, fmt.Errorf("publisher required when notifications are enabled")
		}
		if params.Channel == "" {
			return nil, fmt.Errorf("notification channel required")
		}
	}
	if params.Threshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative")
	}
	return &LowStockNotifier{
		repo:      params.Repository,
		publisher: params.Publisher,
		logg:      params.Logger,
		channel:   params.Channel,
		threshold: params.Threshold,
		enabled:   params.Enabled,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Threshold returns the configured alert threshold.
func (n *LowStockNotifier) Threshold() int {
	return n.threshold
}

// StockChanged alerts for every listed product whose stock is now at or under the threshold.
func (n *LowStockNotifier) StockChanged(ctx context.Context, productIDs []uuid.UUID) error {
	if !n.enabled || len(productIDs) == 0 {
		return nil
	}
	products, err := n.repo.FindProducts(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	_, err = n.publishLow(ctx, products)
	return err
}

// Sweep alerts for every product currently at or under the threshold and
// returns how many alerts were published.
func (n *LowStockNotifier) Sweep(ctx context.Context) (int, error) {
	if !n.enabled {
		return 0, nil
	}
	products, err := n.repo.ListAtOrBelow(ctx, n.threshold)
	if err != nil {
		return 0, fmt.Errorf("list low stock products: %w", err)
	}
	return n.publishLow(ctx, products)
}

func (n *LowStockNotifier) publishLow(ctx context.Context, products []models.Product) (int, error) {
	var (
		published int
		errs      error
	)
	for _, product := range products {
		if product.CurrentStock > n.threshold {
			continue
		}
		if err := n.publish(ctx, n.alertFor(product)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("product %s: %w", product.SKU, err))
			continue
		}
		published++
	}
	return published, errs
}

func (n *LowStockNotifier) publish(ctx context.Context, alert LowStockAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	receivers, err := n.publisher.Publish(ctx, n.channel, payload)
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	logCtx := n.logg.WithProductID(ctx, alert.ProductID.String())
	logCtx = n.logg.WithFields(logCtx, map[string]any{
		"sku":           alert.SKU,
		"current_stock": alert.CurrentStock,
		"severity":      alert.Severity,
		"receivers":     receivers,
	})
	n.logg.Info(logCtx, "stock.low.published")
	return nil
}

func (n *LowStockNotifier) alertFor(product models.Product) LowStockAlert {
	severity := SeverityCritical
	if product.CurrentStock <= 0 {
		severity = SeverityOutOfStock
	}
	return LowStockAlert{
		Event:        EventLowStock,
		ProductID:    product.ID,
		Name:         product.Name,
		SKU:          product.SKU,
		CurrentStock: product.CurrentStock,
		Threshold:    n.threshold,
		Severity:     severity,
		Text:         formatAlertHTML(product, severity),
		ParseMode:    "HTML",
		OccurredAt:   n.now(),
	}
}

func formatAlertHTML(product models.Product, severity Severity) string {
	status := "🟠 Critical level"
	if severity == SeverityOutOfStock {
		status = "🔴 Out of stock"
	}
	return fmt.Sprintf("⚠️ <b>Low stock alert</b>\n\n<b>Product:</b> %s\n<b>SKU:</b> <code>%s</code>\n<b>Current stock:</b> %d\n<b>Status:</b> %s",
		html.EscapeString(product.Name),
		html.EscapeString(product.SKU),
		product.CurrentStock,
		status,
	)
}
