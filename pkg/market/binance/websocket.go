package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultReadTimeout  = 90 * time.Second
	defaultPingInterval = 30 * time.Second
)

// StreamClient dials Binance USDT-M futures websockets. A connection that
// delivers nothing (data, ping or pong) for ReadTimeout is closed so the
// caller can reconnect.
type StreamClient struct {
	StreamURL    string
	ReadTimeout  time.Duration
	PingInterval time.Duration
	dialer       *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host and a
// non-empty baseURL (e.g. wss://fstream.binance.com) overrides both.
func NewStreamClient(testnet bool, baseURL string) *StreamClient {
	streamURL := (&url.URL{Scheme: "wss", Host: "fstream.binance.com", Path: "/ws"}).String()
	if testnet {
		streamURL = (&url.URL{Scheme: "wss", Host: "stream.binancefuture.com", Path: "/ws"}).String()
	}
	if baseURL != "" {
		streamURL = strings.TrimRight(baseURL, "/") + "/ws"
	}
	return &StreamClient{
		StreamURL:    streamURL,
		ReadTimeout:  defaultReadTimeout,
		PingInterval: defaultPingInterval,
		dialer:       websocket.DefaultDialer,
	}
}

// SubscribeMarkPrice listens to <symbol>@markPrice and pushes parsed updates.
// The channel closes when the connection drops, ctx ends or stop is called.
func (c *StreamClient) SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan MarkPrice, func(), error) {
	// Binance requires lowercase symbols for WebSocket streams
	u := fmt.Sprintf("%s/%s@markPrice", c.StreamURL, strings.ToLower(symbol))
	return subscribe(ctx, c, u, "markPrice", parseMarkPriceMessage)
}

// SubscribeUserData listens to the user-data stream of a listen key and
// pushes raw messages; decoding is left to the exchange client package.
func (c *StreamClient) SubscribeUserData(ctx context.Context, listenKey string) (<-chan []byte, func(), error) {
	u := fmt.Sprintf("%s/%s", c.StreamURL, listenKey)
	return subscribe(ctx, c, u, "userData", func(msg []byte) ([]byte, error) {
		return msg, nil
	})
}

func subscribe[T any](ctx context.Context, c *StreamClient, u, name string, parse func([]byte) (T, error)) (<-chan T, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws %s: %w", name, err)
	}

	readTimeout := c.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	pingInterval := c.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	out := make(chan T, 100)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.Printf("binance ws %s ping failed: %v", name, err)
				}
			}
		}
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					return
				default:
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				log.Printf("binance ws %s read error: %v", name, err)
				return
			}
			extend()

			parsed, err := parse(msg)
			if err != nil {
				log.Printf("binance ws %s parse error: %v", name, err)
				continue
			}
			select {
			case out <- parsed:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}

func parseMarkPriceMessage(msg []byte) (MarkPrice, error) {
	var raw struct {
		EventTime interface{} `json:"E"`
		Symbol    string      `json:"s"`
		Price     interface{} `json:"p"`
		Index     interface{} `json:"i"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MarkPrice{}, err
	}
	if raw.Symbol == "" {
		return MarkPrice{}, fmt.Errorf("mark price message without symbol")
	}
	return MarkPrice{
		Symbol:     raw.Symbol,
		Price:      toFloat(raw.Price),
		IndexPrice: toFloat(raw.Index),
		Time:       toInt64(raw.EventTime),
	}, nil
}
