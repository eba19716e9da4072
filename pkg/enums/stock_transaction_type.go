package enums

import "fmt"

// StockTransactionType maps to the stock_transaction_type enum in Postgres.
type StockTransactionType string

const (
	StockTransactionTypeIn  StockTransactionType = "IN"
	StockTransactionTypeOut StockTransactionType = "OUT"
)

var validStockTransactionTypes = []StockTransactionType{
	StockTransactionTypeIn,
	StockTransactionTypeOut,
}

// IsValid reports whether the value matches the canonical stock transaction enum.
func (t StockTransactionType) IsValid() bool {
	for _, candidate := range validStockTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Sign returns +1 for IN and -1 for OUT.
func (t StockTransactionType) Sign() int {
	if t == StockTransactionTypeOut {
		return -1
	}
	return 1
}

// ParseStockTransactionType converts raw input into StockTransactionType.
func ParseStockTransactionType(value string) (StockTransactionType, error) {
	for _, candidate := range validStockTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock transaction type %q", value)
}
