// Package events classifies the gateway's heterogeneous push payloads into
// one normalized order-event shape and fans them out to windows.
package events

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jchen042/tradedesk/internal/gateway"
)

// Kind is the tagged-union discriminator for normalized order events.
type Kind string

const (
	KindOrderNew    Kind = "ORDER_NEW"
	KindOrderCancel Kind = "ORDER_CANCEL"
	KindOrderModify Kind = "ORDER_MODIFY"
	KindFill        Kind = "FILL"
	KindUnknown     Kind = "UNKNOWN"
)

// NormalizedOrderEvent is the side-independent union of a gateway order ack
// and a fill. It is produced exactly once, at the boundary; nothing
// downstream probes raw payload fields.
type NormalizedOrderEvent struct {
	Kind           Kind            `json:"kind"`
	OpCode         string          `json:"op_code"`
	OpMessage      string          `json:"op_message,omitempty"`
	OrderNumber    string          `json:"order_number"`
	Side           string          `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	CancelQuantity decimal.Decimal `json:"cancel_quantity"`
	ContractCode   string          `json:"contract_code"`
	Account        string          `json:"account,omitempty"`

	flagsOnce sync.Once
	flags     derivedFlags
}

type derivedFlags struct {
	isBuy, isSell bool
	isSuccess     bool
	isNewOrder    bool
	isCancel      bool
	isModify      bool
	isFill        bool
}

func (e *NormalizedOrderEvent) derive() {
	e.flagsOnce.Do(func() {
		side := strings.ToUpper(e.Side)
		e.flags = derivedFlags{
			isBuy:      side == "BUY" || side == "B",
			isSell:     side == "SELL" || side == "S",
			isSuccess:  e.OpCode == "" || e.OpCode == "00" || e.OpCode == "0",
			isNewOrder: e.Kind == KindOrderNew,
			isCancel:   e.Kind == KindOrderCancel,
			isModify:   e.Kind == KindOrderModify,
			isFill:     e.Kind == KindFill,
		}
	})
}

// Derived flags, computed once on first access and memoized.
func (e *NormalizedOrderEvent) IsBuy() bool      { e.derive(); return e.flags.isBuy }
func (e *NormalizedOrderEvent) IsSell() bool     { e.derive(); return e.flags.isSell }
func (e *NormalizedOrderEvent) IsSuccess() bool  { e.derive(); return e.flags.isSuccess }
func (e *NormalizedOrderEvent) IsNewOrder() bool { e.derive(); return e.flags.isNewOrder }
func (e *NormalizedOrderEvent) IsCancel() bool   { e.derive(); return e.flags.isCancel }
func (e *NormalizedOrderEvent) IsModify() bool   { e.derive(); return e.flags.isModify }
func (e *NormalizedOrderEvent) IsFill() bool     { e.derive(); return e.flags.isFill }

// Normalize converts one raw push frame into the tagged event shape.
// It accepts both payload families the gateway emits: nested
// operation/order/status/contract/account sections (derivative sessions)
// and flat field sets (stock sessions, fills). Returns nil for frames that
// carry no recognizable order semantics.
func Normalize(raw gateway.RawPushEvent) *NormalizedOrderEvent {
	switch raw.Tag {
	case gateway.TagFill:
		return normalizeFill(raw.Fields)
	case gateway.TagOrderAck:
		return normalizeAck(raw.Fields)
	default:
		return nil
	}
}

func normalizeAck(fields map[string]any) *NormalizedOrderEvent {
	op := section(fields, "operation")
	order := section(fields, "order")
	contract := section(fields, "contract")
	account := section(fields, "account")

	ev := &NormalizedOrderEvent{
		Kind:           ackKind(lookupString(op, fields, "op_type")),
		OpCode:         lookupString(op, fields, "op_code"),
		OpMessage:      lookupString(op, fields, "op_msg"),
		OrderNumber:    lookupString(order, fields, "ord_no"),
		Side:           canonicalSide(lookupString(order, fields, "action")),
		Price:          lookupDecimal(order, fields, "price"),
		Quantity:       lookupDecimal(order, fields, "qty"),
		CancelQuantity: lookupDecimal(order, fields, "cancel_qty"),
		ContractCode:   extractContractCode(contract, fields),
		Account:        lookupString(account, fields, "account"),
	}
	if ev.Kind == KindUnknown && ev.OrderNumber == "" {
		return nil
	}
	return ev
}

func normalizeFill(fields map[string]any) *NormalizedOrderEvent {
	ev := &NormalizedOrderEvent{
		Kind:         KindFill,
		OrderNumber:  lookupString(nil, fields, "ord_no"),
		Side:         canonicalSide(lookupString(nil, fields, "action")),
		Price:        lookupDecimal(nil, fields, "price"),
		Quantity:     lookupDecimal(nil, fields, "qty"),
		ContractCode: extractContractCode(nil, fields),
	}
	if ev.ContractCode == "" && ev.OrderNumber == "" {
		return nil
	}
	return ev
}

func ackKind(opType string) Kind {
	switch strings.ToUpper(opType) {
	case "N", "NEW":
		return KindOrderNew
	case "C", "CANCEL":
		return KindOrderCancel
	case "M", "MODIFY", "UPDATE":
		return KindOrderModify
	}
	return KindUnknown
}

func canonicalSide(action string) string {
	switch strings.ToUpper(action) {
	case "B", "BUY":
		return "BUY"
	case "S", "SELL":
		return "SELL"
	}
	return strings.ToUpper(action)
}

// extractContractCode resolves the contract code by priority:
// composite/full code first, then plain code, then symbol. First non-empty
// wins.
func extractContractCode(sec, flat map[string]any) string {
	for _, field := range []string{"combo_code", "full_code", "code", "symbol"} {
		if v := lookupString(sec, flat, field); v != "" {
			return v
		}
	}
	return ""
}

// section returns a nested payload section, or nil when the frame is flat.
func section(fields map[string]any, name string) map[string]any {
	if fields == nil {
		return nil
	}
	if m, ok := fields[name].(map[string]any); ok {
		return m
	}
	return nil
}

// lookupString reads a field from the section first, falling back to the
// flat top-level payload.
func lookupString(sec, flat map[string]any, field string) string {
	for _, m := range []map[string]any{sec, flat} {
		if m == nil {
			continue
		}
		switch v := m[field].(type) {
		case string:
			return v
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

func lookupDecimal(sec, flat map[string]any, field string) decimal.Decimal {
	for _, m := range []map[string]any{sec, flat} {
		if m == nil {
			continue
		}
		switch v := m[field].(type) {
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d
			}
		case float64:
			return decimal.NewFromFloat(v)
		case int:
			return decimal.NewFromInt(int64(v))
		}
	}
	return decimal.Zero
}
