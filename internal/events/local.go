package events

import (
	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/pkg/models"
)

// LocalCancelAck builds the synthetic frame for the optimistic "status
// changed" notification a successful cancel emits before the gateway's own
// ack arrives. Routing it through the normal pipeline keeps window delivery
// uniform; the real push event later corroborates or corrects it.
func LocalCancelAck(o models.Order) gateway.RawPushEvent {
	return gateway.RawPushEvent{
		Tag: gateway.TagOrderAck,
		Fields: map[string]any{
			"operation": map[string]any{"op_type": "C", "op_code": "00"},
			"order": map[string]any{
				"ord_no": o.OrderNumber,
				"action": o.Side,
				"price":  o.Price.String(),
				"qty":    o.Quantity.String(),
			},
			"status":   map[string]any{"status": models.OrderStatusCancelled},
			"contract": map[string]any{"code": o.ContractCode},
			"account":  map[string]any{"account": o.Account},
		},
	}
}
