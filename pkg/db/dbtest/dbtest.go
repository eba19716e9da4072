// Package dbtest opens migrated SQLite (and, when configured, Postgres)
// databases for store-backed tests.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	"github.com/angelmondragon/workshop-backend/pkg/env"
	"github.com/angelmondragon/workshop-backend/pkg/migrate"
)

// PostgresDSNEnv names the variable that enables Postgres-backed tests.
const PostgresDSNEnv = "TEST_POSTGRES_DSN"

// Open returns a client over a fresh file-backed SQLite database with every
// migration applied. Writers take the database lock at BEGIN so concurrent
// transactions serialize the way row locks do on Postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate&_foreign_keys=on",
		filepath.Join(t.TempDir(), "workshop.db"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.Up(context.Background(), sqlDB, migrate.DialectSQLite))
	return db.NewFromGorm(conn)
}

// OpenPostgres returns a client over a fresh schema in the database named by
// WORKSHOP_TEST_POSTGRES_DSN, migrated and dropped on cleanup. The test is
// skipped when the variable is unset.
func OpenPostgres(t *testing.T) *db.Client {
	t.Helper()

	dsn := env.Get(PostgresDSNEnv, "")
	if dsn == "" {
		t.Skipf("WORKSHOP_%s not set", PostgresDSNEnv)
	}
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin := openPostgres(t, dsn)
	require.NoError(t, admin.Exec("CREATE SCHEMA "+schema).Error)
	t.Cleanup(func() { _ = admin.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Error })

	conn := openPostgres(t, withSearchPath(dsn, schema))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)

	require.NoError(t, migrate.Up(context.Background(), sqlDB, migrate.DialectPostgres))
	return db.NewFromGorm(conn)
}

func openPostgres(t *testing.T, dsn string) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// withSearchPath pins every pooled connection to schema. Both URL and
// key=value DSNs are accepted.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

// SeedProduct inserts a product with the given opening stock. Opening stock is
// written as an IN ledger entry so the ledger invariant holds from the start.
func SeedProduct(t *testing.T, conn *gorm.DB, sku string, stock int) *models.Product {
	t.Helper()

	product := &models.Product{ID: uuid.New(), SKU: sku, Name: "Product " + sku, CurrentStock: stock}
	require.NoError(t, conn.Create(product).Error)
	if stock > 0 {
		reason := "opening balance"
		require.NoError(t, conn.Create(&models.StockTransaction{
			ProductID: product.ID,
			Type:      enums.StockTransactionTypeIn,
			Quantity:  stock,
			Reason:    &reason,
		}).Error)
	}
	return product
}

// SeedOrder inserts an order with one item per entry of quantities, all at
// TO_PRODUCE. Items are returned in insertion order.
func SeedOrder(t *testing.T, conn *gorm.DB, number string, product *models.Product, quantities ...int) (*models.Order, []models.OrderItem) {
	t.Helper()

	order := &models.Order{ID: uuid.New(), OrderNumber: number, Status: enums.OrderStatusNew}
	require.NoError(t, conn.Create(order).Error)

	items := make([]models.OrderItem, 0, len(quantities))
	for _, qty := range quantities {
		item := models.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: product.ID,
			Quantity:  qty,
			Status:    enums.ProductionStageToProduce,
		}
		require.NoError(t, conn.Create(&item).Error)
		items = append(items, item)
	}
	return order, items
}

// LedgerSum returns Σ IN − Σ OUT for productID.
func LedgerSum(t *testing.T, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()

	var sum int
	require.NoError(t, conn.Raw(
		`SELECT COALESCE(SUM(CASE WHEN type = 'IN' THEN quantity ELSE -quantity END), 0)
		   FROM stock_transactions WHERE product_id = ?`, productID).Scan(&sum).Error)
	return sum
}
