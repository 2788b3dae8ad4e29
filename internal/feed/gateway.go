package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
)

// gatewayTick is the wire format sent by the venue gateway.
type gatewayTick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// GatewayFeed streams live ticks from a venue gateway over a websocket.
// An unreachable gateway is fatal at Start; read errors after that are
// transient and trigger a backoff and reconnect.
type GatewayFeed struct {
	bus     *events.Bus
	logger  *zap.Logger
	rawURL  string
	symbols []string
	backoff time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	cancel  context.CancelFunc
}

// NewGatewayFeed builds a feed connecting to rawURL for the given
// symbols.
func NewGatewayFeed(bus *events.Bus, rawURL string, symbols []string, logger *zap.Logger) *GatewayFeed {
	return &GatewayFeed{
		bus:     bus,
		logger:  logger.Named("gateway"),
		rawURL:  rawURL,
		symbols: symbols,
		backoff: 2 * time.Second,
	}
}

// Start connects and runs the read loop until Stop or context
// cancellation. The initial connection failing is returned as an error.
func (g *GatewayFeed) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.cancel = cancel
	g.mu.Unlock()

	if err := g.connect(); err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	g.logger.Info("connected to gateway", zap.String("url", g.rawURL))

	for {
		select {
		case <-ctx.Done():
			g.closeConn()
			return nil
		default:
		}

		g.mu.Lock()
		conn := g.conn
		g.mu.Unlock()
		if conn == nil {
			if err := g.reconnect(ctx); err != nil {
				return nil
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Warn("gateway read error, backing off", zap.Error(err))
			g.closeConn()
			continue
		}
		g.handleMessage(message)
	}
}

// Stop closes the connection and ends the read loop.
func (g *GatewayFeed) Stop() {
	g.mu.Lock()
	g.stopped = true
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	g.closeConn()
}

func (g *GatewayFeed) connect() error {
	u, err := url.Parse(g.rawURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": g.symbols,
		"id":     time.Now().UnixNano(),
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	return nil
}

// reconnect waits out the backoff then dials again. Only context
// cancellation makes it give up.
func (g *GatewayFeed) reconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.backoff):
		}

		if err := g.connect(); err != nil {
			g.logger.Warn("gateway reconnect failed", zap.Error(err))
			continue
		}
		g.logger.Info("gateway reconnected")
		return nil
	}
}

func (g *GatewayFeed) closeConn() {
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()
}

func (g *GatewayFeed) handleMessage(data []byte) {
	var tick gatewayTick
	if err := json.Unmarshal(data, &tick); err != nil || tick.Symbol == "" {
		return
	}
	g.bus.Publish(events.TickEvent{
		Symbol:    tick.Symbol,
		Timestamp: time.UnixMilli(tick.Timestamp).UTC(),
		Bid:       tick.Bid,
		Ask:       tick.Ask,
		Volume:    tick.Volume,
	})
}
