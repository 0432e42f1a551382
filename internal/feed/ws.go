package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// tickerMessage is one streamed price update.
type tickerMessage struct {
	Type  string  `json:"type"`
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

// WSTicker subscribes to the streaming ticker for one pair and writes each
// update into the price cache, which the cached feed then serves to the
// monitor. It reconnects with exponential backoff on disconnect.
type WSTicker struct {
	wsURL string
	pair  string
	cache domain.PriceCache

	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTicker creates a ticker that keeps the cache warm for the given pair.
func NewWSTicker(wsURL, pair string, cache domain.PriceCache, logger *slog.Logger) *WSTicker {
	return &WSTicker{
		wsURL:  wsURL,
		pair:   pair,
		cache:  cache,
		logger: logger.With(slog.String("component", "ws_ticker")),
		done:   make(chan struct{}),
	}
}

// Run connects, subscribes, and consumes updates until ctx is cancelled or
// Close is called. Each disconnect triggers a backoff-and-reconnect cycle.
func (t *WSTicker) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		default:
		}

		err := t.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.logger.Warn("ticker disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops.
func (t *WSTicker) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := map[string]any{"type": "subscribe", "pair": t.pair}
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", t.pair, err)
	}

	t.logger.Info("ticker subscribed", slog.String("pair", t.pair))

	// Ping loop. Exits with the read loop via the stop channel.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: ws read: %w", domain.ErrWSDisconnect)
		}
		t.handleMessage(ctx, raw)
	}
}

// handleMessage parses one streamed update and writes it to the cache.
// Unparseable or irrelevant messages are dropped.
func (t *WSTicker) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" || msg.Pair != t.pair || msg.Price <= 0 {
		return
	}

	ts := time.Now().UTC()
	if msg.TS > 0 {
		ts = time.UnixMilli(msg.TS).UTC()
	}
	if err := t.cache.SetPrice(ctx, msg.Pair, msg.Price, ts); err != nil {
		t.logger.Warn("cache price update failed",
			slog.String("pair", msg.Pair),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the ticker.
func (t *WSTicker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}
