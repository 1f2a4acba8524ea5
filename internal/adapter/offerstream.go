package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	streamReconnBaseDelay = 1 * time.Second
	streamReconnMaxDelay  = 30 * time.Second
	streamPingPeriod      = 15 * time.Second
)

// offerSnapshot is the last pushed offer state for one sku.
type offerSnapshot struct {
	BuyBoxOwned      bool
	BuyBoxPrice      int64
	CompetitorPrices []int64
	ReceivedAt       time.Time
}

// offerStream keeps a live snapshot cache fed by the marketplace's offer
// event channel, so the monitor can answer without a REST round trip.
// Reconnects with capped exponential backoff and detects zombie connections
// via read deadlines.
type offerStream struct {
	url    string
	shopID string
	apiKey string

	mu          sync.RWMutex
	conn        *websocket.Conn
	snapshots   map[string]offerSnapshot
	isConnected bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newOfferStream(url, shopID, apiKey string) *offerStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &offerStream{
		url:       url,
		shopID:    shopID,
		apiKey:    apiKey,
		snapshots: make(map[string]offerSnapshot),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (s *offerStream) Start() {
	go func() {
		defer close(s.done)
		s.runLoop()
	}()
}

// Stop cancels the stream and waits for the run loop to wind down.
func (s *offerStream) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// Snapshot returns the cached offer state for a sku, if any has arrived.
func (s *offerStream) Snapshot(sku string) (offerSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sku]
	return snap, ok
}

func (s *offerStream) runLoop() {
	delay := streamReconnBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.connect(); err != nil {
			logger.Error("offer stream connection failed", "shop", s.shopID, "error", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > streamReconnMaxDelay {
				delay = streamReconnMaxDelay
			}
			continue
		}

		delay = streamReconnBaseDelay
		s.mu.Lock()
		s.isConnected = true
		conn := s.conn
		s.mu.Unlock()

		if err := s.sendSubscribe(); err != nil {
			logger.Error("offer stream subscribe failed", "shop", s.shopID, "error", err)
			conn.Close()
			continue
		}

		s.readLoop(conn)

		s.mu.Lock()
		s.isConnected = false
		s.mu.Unlock()
	}
}

func (s *offerStream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	readTimeout := streamPingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if !s.isConnected || s.conn == nil {
					s.mu.Unlock()
					return
				}
				err := s.conn.WriteMessage(websocket.PingMessage, []byte{})
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

type offerStreamMessage struct {
	EventType string `json:"event_type"` // "offer_update"
	SKU       string `json:"sku"`
	Offers    []struct {
		SellerID string `json:"seller_id"`
		Price    string `json:"price"`
		BuyBox   bool   `json:"buy_box"`
	} `json:"offers"`
}

func (s *offerStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	readTimeout := streamPingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Error("offer stream read error", "shop", s.shopID, "error", err)
			return
		}

		var msgs []offerStreamMessage
		if err := json.Unmarshal(message, &msgs); err != nil {
			var single offerStreamMessage
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				msgs = []offerStreamMessage{single}
			} else {
				continue
			}
		}

		for _, m := range msgs {
			if m.EventType == "offer_update" && m.SKU != "" {
				s.applyOfferUpdate(m)
			}
		}
	}
}

func (s *offerStream) applyOfferUpdate(msg offerStreamMessage) {
	snap := offerSnapshot{ReceivedAt: time.Now().UTC()}
	for _, offer := range msg.Offers {
		price, err := minorUnits(offer.Price)
		if err != nil {
			continue
		}
		mine := offer.SellerID == s.shopID
		if offer.BuyBox {
			snap.BuyBoxOwned = mine
			snap.BuyBoxPrice = price
		}
		if !mine {
			snap.CompetitorPrices = append(snap.CompetitorPrices, price)
		}
	}

	s.mu.Lock()
	s.snapshots[msg.SKU] = snap
	s.mu.Unlock()
}

func (s *offerStream) sendSubscribe() error {
	msg := map[string]any{
		"type":    "subscribe",
		"channel": "offers",
		"shop_id": s.shopID,
		"api_key": s.apiKey,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no connection")
	}
	return s.conn.WriteJSON(msg)
}
