package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamReadLimit    = 1 << 20
	streamPongWait     = 60 * time.Second
	streamPingInterval = 30 * time.Second
	streamWriteWait    = 10 * time.Second

	backoffBase = 1 * time.Second
)

// StreamHandler consumes one raw push frame. Handlers must not block; slow
// consumers stall the socket reader.
type StreamHandler func(RawPushEvent)

// StreamClient reads the gateway's websocket push channel and hands each
// decoded frame to the handler. It reconnects with exponential backoff and
// stops only when its context is done.
type StreamClient struct {
	url     string
	handler StreamHandler
	logger  *zap.Logger

	maxBackoff time.Duration
	dialer     *websocket.Dialer
}

// NewStreamClient creates a stream reader for the given push endpoint.
func NewStreamClient(url string, handler StreamHandler, maxBackoff time.Duration, logger *zap.Logger) *StreamClient {
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	return &StreamClient{
		url:        url,
		handler:    handler,
		logger:     logger,
		maxBackoff: maxBackoff,
		dialer:     websocket.DefaultDialer,
	}
}

// Run blocks until ctx is done, reconnecting across connection failures.
func (s *StreamClient) Run(ctx context.Context) error {
	retry := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			wait := s.backoffFor(retry)
			retry++
			s.logger.Warn("push stream dial failed",
				zap.String("url", s.url),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry = 0
		s.logger.Info("push stream connected", zap.String("url", s.url))
		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			s.logger.Warn("push stream disconnected", zap.Error(err))
		}
		conn.Close()
	}
}

func (s *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		var ev RawPushEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.Tag == "" {
			// Heartbeats and unknown frames pass through untagged; skip.
			continue
		}
		s.handler(ev)
	}
}

// backoffFor returns base * 2^retry capped at maxBackoff.
func (s *StreamClient) backoffFor(retry int) time.Duration {
	if retry < 0 {
		return backoffBase
	}
	if retry > 30 {
		return s.maxBackoff
	}
	d := backoffBase * time.Duration(1<<retry)
	if d > s.maxBackoff {
		return s.maxBackoff
	}
	return d
}
