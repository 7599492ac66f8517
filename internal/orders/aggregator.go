// Package orders implements the order-lifecycle side of the coordinator:
// the unified live-order query, the debounced status refresh, and
// bounded-parallel batch cancellation.
package orders

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/internal/gateway"
	pkgerrors "github.com/jchen042/tradedesk/pkg/errors"
	"github.com/jchen042/tradedesk/pkg/models"
)

// PriceLevelAggregate sums pending quantity per price level for one
// contract. Filled quantities are carried for ladder-shape stability but
// are always zero: fill-to-resting-order matching is out of scope.
type PriceLevelAggregate struct {
	Price          decimal.Decimal `json:"price"`
	BuyPendingQty  decimal.Decimal `json:"buy_pending_qty"`
	BuyFilledQty   decimal.Decimal `json:"buy_filled_qty"`
	SellPendingQty decimal.Decimal `json:"sell_pending_qty"`
	SellFilledQty  decimal.Decimal `json:"sell_filled_qty"`
}

// PendingStats summarizes the cancelable book for the applied contract
// filter.
type PendingStats struct {
	BuyCount  int             `json:"buy_count"`
	SellCount int             `json:"sell_count"`
	BuyQty    decimal.Decimal `json:"buy_qty"`
	SellQty   decimal.Decimal `json:"sell_qty"`
	BuyValue  decimal.Decimal `json:"buy_value"`
	SellValue decimal.Decimal `json:"sell_value"`

	// Derived after the scan.
	TotalPendingOrderCount int             `json:"total_pending_order_count"`
	TotalPendingQuantity   decimal.Decimal `json:"total_pending_quantity"`
	PendingBuyPrice        decimal.Decimal `json:"pending_buy_price"`
	PendingSellPrice       decimal.Decimal `json:"pending_sell_price"`

	// Diagnostics. Skips are informational, never errors.
	SkippedNoNumber int `json:"skipped_no_number"`
	Duplicates      int `json:"duplicates"`
	SkippedInvalid  int `json:"skipped_invalid"`
}

// UnifiedResult is one consistent view over a single upstream snapshot:
// cancel targets, price ladder, and statistics all derive from the same
// list pull.
type UnifiedResult struct {
	Cancellable []models.Order        `json:"cancellable"`
	Levels      []PriceLevelAggregate `json:"levels"`
	Stats       PendingStats          `json:"stats"`
}

// Aggregator derives the unified order view from the gateway's flat
// live-order list. It holds no state between queries; every call re-reads.
type Aggregator struct {
	gw          gateway.Client
	gate        *RefreshGate
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewAggregator creates an aggregator. callTimeout bounds the blocking
// list pull; gate may be nil when force-refresh is never used (tests).
func NewAggregator(gw gateway.Client, gate *RefreshGate, callTimeout time.Duration, logger *zap.Logger) *Aggregator {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{gw: gw, gate: gate, callTimeout: callTimeout, logger: logger}
}

// UnifiedQuery scans the live-order list once and returns the cancelable
// orders matching both filters, the per-price aggregates matching the
// contract filter, and summary statistics.
//
// contractFilter and sideFilter are optional; empty matches everything.
// Contract matching is case-insensitive. forceRefresh runs the debounced
// refresh before reading, so the view reflects a status pull at most one
// gate-cycle old.
func (a *Aggregator) UnifiedQuery(ctx context.Context, contractFilter, sideFilter string, forceRefresh bool) (*UnifiedResult, error) {
	if forceRefresh && a.gate != nil {
		a.gate.Refresh(ctx)
	}

	listCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	raw, err := a.gw.ListLiveOrders(listCtx)
	if err != nil {
		if listCtx.Err() == context.DeadlineExceeded {
			return nil, pkgerrors.Wrap(pkgerrors.KindUpstreamTimeout, err, "list live orders timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.KindUpstreamRejection, err, "list live orders failed")
	}

	res := &UnifiedResult{}
	res.Stats = newPendingStats()

	ladder := btree.NewBTreeG(func(x, y *PriceLevelAggregate) bool {
		return x.Price.LessThan(y.Price)
	})
	seen := make(map[string]struct{}, len(raw))

	for _, o := range raw {
		if o.OrderNumber == "" {
			res.Stats.SkippedNoNumber++
			continue
		}
		if _, dup := seen[o.OrderNumber]; dup {
			res.Stats.Duplicates++
			continue
		}
		seen[o.OrderNumber] = struct{}{}

		if !models.IsCancelable(o.Status) {
			continue
		}
		if o.Price.LessThanOrEqual(decimal.Zero) || o.Quantity.LessThanOrEqual(decimal.Zero) {
			res.Stats.SkippedInvalid++
			continue
		}

		matchContract := contractFilter == "" || strings.EqualFold(o.ContractCode, contractFilter)
		matchSide := sideFilter == "" || strings.EqualFold(o.Side, sideFilter)

		if matchContract && matchSide {
			res.Cancellable = append(res.Cancellable, o)
		}
		if matchContract {
			a.accumulate(res, ladder, o)
		}
	}

	res.Levels = make([]PriceLevelAggregate, 0, ladder.Len())
	ladder.Scan(func(lvl *PriceLevelAggregate) bool {
		res.Levels = append(res.Levels, *lvl)
		return true
	})
	res.Stats.finalize()

	a.logger.Debug("unified query",
		zap.Int("raw", len(raw)),
		zap.Int("cancellable", len(res.Cancellable)),
		zap.Int("levels", len(res.Levels)),
		zap.Int("duplicates", res.Stats.Duplicates),
	)
	return res, nil
}

// accumulate folds one order into the ladder and running stats. Aggregation
// ignores the side filter on purpose: the ladder and stats describe the
// whole contract, not the cancel selection.
func (a *Aggregator) accumulate(res *UnifiedResult, ladder *btree.BTreeG[*PriceLevelAggregate], o models.Order) {
	probe := &PriceLevelAggregate{Price: o.Price}
	lvl, ok := ladder.Get(probe)
	if !ok {
		lvl = &PriceLevelAggregate{
			Price:          o.Price,
			BuyPendingQty:  decimal.Zero,
			BuyFilledQty:   decimal.Zero,
			SellPendingQty: decimal.Zero,
			SellFilledQty:  decimal.Zero,
		}
		ladder.Set(lvl)
	}

	value := o.Price.Mul(o.Quantity)
	switch o.Side {
	case models.OrderSideBuy:
		lvl.BuyPendingQty = lvl.BuyPendingQty.Add(o.Quantity)
		res.Stats.BuyCount++
		res.Stats.BuyQty = res.Stats.BuyQty.Add(o.Quantity)
		res.Stats.BuyValue = res.Stats.BuyValue.Add(value)
	case models.OrderSideSell:
		lvl.SellPendingQty = lvl.SellPendingQty.Add(o.Quantity)
		res.Stats.SellCount++
		res.Stats.SellQty = res.Stats.SellQty.Add(o.Quantity)
		res.Stats.SellValue = res.Stats.SellValue.Add(value)
	}
}

func newPendingStats() PendingStats {
	return PendingStats{
		BuyQty:               decimal.Zero,
		SellQty:              decimal.Zero,
		BuyValue:             decimal.Zero,
		SellValue:            decimal.Zero,
		TotalPendingQuantity: decimal.Zero,
		PendingBuyPrice:      decimal.Zero,
		PendingSellPrice:     decimal.Zero,
	}
}

// finalize computes the derived totals and quantity-weighted average
// prices. A side with no pending quantity reports a zero price.
func (s *PendingStats) finalize() {
	s.TotalPendingOrderCount = s.BuyCount + s.SellCount
	s.TotalPendingQuantity = s.BuyQty.Add(s.SellQty)
	if s.BuyQty.IsPositive() {
		s.PendingBuyPrice = s.BuyValue.Div(s.BuyQty)
	}
	if s.SellQty.IsPositive() {
		s.PendingSellPrice = s.SellValue.Div(s.SellQty)
	}
}
