package adapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestOfferStreamCachesSnapshots(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub["channel"] != "offers" || sub["shop_id"] != "shop1" {
			t.Errorf("unexpected subscribe message %v", sub)
		}

		update := map[string]any{
			"event_type": "offer_update",
			"sku":        "SKU-1",
			"offers": []map[string]any{
				{"seller_id": "shop1", "price": "24.50", "buy_box": true},
				{"seller_id": "rival", "price": "25.99", "buy_box": false},
			},
		}
		if err := conn.WriteJSON(update); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := newOfferStream("ws"+strings.TrimPrefix(srv.URL, "http"), "shop1", "key")
	stream.Start()
	defer stream.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if snap, ok := stream.Snapshot("SKU-1"); ok {
			if !snap.BuyBoxOwned {
				t.Error("expected own shop to hold the buy box")
			}
			if snap.BuyBoxPrice != 2450 {
				t.Errorf("expected buy box price 2450, got %d", snap.BuyBoxPrice)
			}
			if len(snap.CompetitorPrices) != 1 || snap.CompetitorPrices[0] != 2599 {
				t.Errorf("unexpected competitor prices %v", snap.CompetitorPrices)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("snapshot never arrived")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOfferStreamStopWhileReconnecting(t *testing.T) {
	// Nothing listens here, so the stream sits in its reconnect backoff.
	stream := newOfferStream("ws://127.0.0.1:1", "shop1", "key")
	stream.Start()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		stream.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a reconnecting stream")
	}
}
