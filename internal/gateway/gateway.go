// Package gateway defines the boundary to the upstream trading gateway.
//
// Everything behind the Client interface performs real network I/O and is
// authoritative for order state. The coordinator only orchestrates calls; it
// never interprets wire formats itself.
package gateway

import (
	"context"

	"github.com/jchen042/tradedesk/pkg/models"
)

// Client is the blocking call surface of the upstream gateway. Every call
// honors its context deadline; a deadline hit is a local giveup, not proof
// the remote operation did not happen.
type Client interface {
	// Subscribe opens the upstream feed for one (contract, quoteType, lotFlag).
	Subscribe(ctx context.Context, contract models.Contract, quoteType models.QuoteType, lotFlag bool) error

	// Unsubscribe closes the upstream feed.
	Unsubscribe(ctx context.Context, code string, quoteType models.QuoteType, lotFlag bool) error

	// ListLiveOrders pulls the flat live-order collection. The returned slice
	// is owned by the caller.
	ListLiveOrders(ctx context.Context) ([]models.Order, error)

	// CancelOrder requests cancellation of one order.
	CancelOrder(ctx context.Context, order models.Order) error

	// RefreshAccountStatus re-pulls order/position status for one account.
	RefreshAccountStatus(ctx context.Context, account string) error

	// Accounts lists the trading accounts this session is logged into.
	Accounts(ctx context.Context) ([]string, error)
}

// Push-frame tags as the gateway emits them. Stock and derivative sessions
// use different ack shapes under the same tags.
const (
	TagOrderAck = "order_ack"
	TagFill     = "fill"
)

// RawPushEvent is one undecoded frame off the gateway's push channel. Fields
// carry the heterogeneous payload exactly as received; classification into a
// typed event happens once, in the event router.
type RawPushEvent struct {
	Tag    string         `json:"type"`
	Fields map[string]any `json:"data"`
}
