package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Constants for order sides, statuses and quote types as the gateway
// reports them.
const (
	// Order sides
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	// Order statuses
	OrderStatusPendingSubmit = "PENDING_SUBMIT"
	OrderStatusPreSubmitted  = "PRE_SUBMITTED"
	OrderStatusSubmitted     = "SUBMITTED"
	OrderStatusPartFilled    = "PART_FILLED"
	OrderStatusFilled        = "FILLED"
	OrderStatusCancelled     = "CANCELLED"
	OrderStatusRejected      = "REJECTED"
	OrderStatusInactive      = "INACTIVE"
)

// QuoteType identifies one kind of market-data stream for a contract.
type QuoteType string

const (
	QuoteTypeTick   QuoteType = "TICK"
	QuoteTypeDepth  QuoteType = "DEPTH"
	QuoteTypeGreeks QuoteType = "GREEKS"
)

// Valid reports whether q is one of the known quote types.
func (q QuoteType) Valid() bool {
	switch q {
	case QuoteTypeTick, QuoteTypeDepth, QuoteTypeGreeks:
		return true
	}
	return false
}

// IsCancelable reports whether an order in the given status can still be
// cancelled at the gateway. Terminal and rejected states cannot.
func IsCancelable(status string) bool {
	switch status {
	case OrderStatusPendingSubmit, OrderStatusPreSubmitted,
		OrderStatusSubmitted, OrderStatusPartFilled:
		return true
	}
	return false
}

// SubscriptionKey identifies exactly one upstream market-data feed.
type SubscriptionKey struct {
	ActualCode string    `json:"actual_code"`
	QuoteType  QuoteType `json:"quote_type"`
	LotFlag    bool      `json:"lot_flag"`
}

// Normalize returns the key with its contract code upper-cased so lookups
// are insensitive to how the display layer spelled it.
func (k SubscriptionKey) Normalize() SubscriptionKey {
	k.ActualCode = strings.ToUpper(strings.TrimSpace(k.ActualCode))
	return k
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s/%s/lot=%t", k.ActualCode, k.QuoteType, k.LotFlag)
}

// Contract carries the metadata the display layer hands over when it
// subscribes. The coordinator never interprets these fields; it passes them
// through to the gateway and back to windows.
type Contract struct {
	ActualCode     string          `json:"actual_code"`
	Symbol         string          `json:"symbol"`
	Exchange       string          `json:"exchange"`
	ProductType    string          `json:"product_type"`
	PriceLimitUp   decimal.Decimal `json:"price_limit_up"`
	PriceLimitDown decimal.Decimal `json:"price_limit_down"`
}

// Order is the gateway-owned snapshot of one outstanding order. The
// coordinator never persists it; every query re-derives what it needs.
type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	Account        string          `json:"account"`
	ContractCode   string          `json:"contract_code"`
	Side           string          `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewOrderForTest creates an Order with the fields tests care about.
func NewOrderForTest(orderNumber, code, side, priceStr, qtyStr, status string) Order {
	price, _ := decimal.NewFromString(priceStr)
	qty, _ := decimal.NewFromString(qtyStr)
	return Order{
		ID:           orderNumber,
		OrderNumber:  orderNumber,
		Account:      "ACC-TEST",
		ContractCode: code,
		Side:         side,
		Price:        price,
		Quantity:     qty,
		Status:       status,
		CreatedAt:    time.Now(),
	}
}

// CancelOutcome records the local result of one cancel attempt. A timeout
// shows up here as failure but the upstream outcome stays ambiguous until
// the next refresh or push event.
type CancelOutcome struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number"`
	ContractCode string `json:"contract_code"`
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
}

// BatchCancelResult aggregates the outcomes of one batch invocation.
// SuccessCount+FailCount always equals Total.
type BatchCancelResult struct {
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	FailCount    int             `json:"fail_count"`
	Outcomes     []CancelOutcome `json:"outcomes"`
}
