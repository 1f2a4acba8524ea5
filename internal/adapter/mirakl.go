package adapter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
)

// miraklAdapter serves mirakl-operated storefronts. When a stream endpoint
// is configured the monitor answers from the pushed offer snapshots and only
// falls back to REST for skus the stream has not seen yet; price updates
// always go over REST.
type miraklAdapter struct {
	id   string
	cfg  config.MarketplaceConfig
	rest *restClient

	mu     sync.RWMutex
	shopID string
	stream *offerStream
}

func NewMiraklAdapter(marketplaceID string, cfg config.MarketplaceConfig) MarketplaceAdapter {
	m := &miraklAdapter{
		id:   marketplaceID,
		cfg:  cfg,
		rest: newRESTClient(marketplaceID, cfg),
	}
	return m
}

func (m *miraklAdapter) MarketplaceID() string { return m.id }

func (m *miraklAdapter) Initialize(ctx context.Context, creds model.Credentials) error {
	apiKey := creds["api_key"]
	shopID := creds["shop_id"]
	if apiKey == "" || shopID == "" {
		return apperrors.NewAuthFailed("mirakl credentials incomplete", nil)
	}

	m.rest.authorize = func(req *http.Request) {
		req.Header.Set("Authorization", apiKey)
	}

	// /api/account answers 401 for an invalid key.
	if err := m.rest.doJSON(ctx, http.MethodGet, "/api/account", "initialize", nil, nil); err != nil {
		return err
	}

	m.mu.Lock()
	m.shopID = shopID
	if m.cfg.StreamURL != "" && m.stream == nil {
		m.stream = newOfferStream(m.cfg.StreamURL, shopID, apiKey)
		m.stream.Start()
	}
	m.mu.Unlock()
	return nil
}

type miraklOffersResponse struct {
	Offers []struct {
		ShopID string `json:"shop_id"`
		Price  string `json:"price"`
		BuyBox bool   `json:"buy_box"`
	} `json:"offers"`
}

func (m *miraklAdapter) GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	start := time.Now()

	m.mu.RLock()
	stream := m.stream
	shopID := m.shopID
	m.mu.RUnlock()

	if stream != nil {
		if snap, ok := stream.Snapshot(sku); ok {
			return &model.MonitoringResult{
				SKU:              sku,
				MarketplaceID:    m.id,
				BuyBoxOwned:      snap.BuyBoxOwned,
				BuyBoxPrice:      snap.BuyBoxPrice,
				CompetitorPrices: snap.CompetitorPrices,
				CheckedAt:        snap.ReceivedAt,
				Latency:          time.Since(start),
			}, nil
		}
	}

	var resp miraklOffersResponse
	if err := m.rest.doJSON(ctx, http.MethodGet, "/api/offers?sku="+sku, "buybox", nil, &resp); err != nil {
		return nil, err
	}

	result := &model.MonitoringResult{
		SKU:           sku,
		MarketplaceID: m.id,
		CheckedAt:     time.Now().UTC(),
	}
	for _, offer := range resp.Offers {
		price, err := minorUnits(offer.Price)
		if err != nil {
			continue
		}
		mine := offer.ShopID == shopID
		if offer.BuyBox {
			result.BuyBoxOwned = mine
			result.BuyBoxPrice = price
		}
		if !mine {
			result.CompetitorPrices = append(result.CompetitorPrices, price)
		}
	}
	result.Latency = time.Since(start)
	return result, nil
}

func (m *miraklAdapter) UpdatePrice(ctx context.Context, sku string, newPrice int64) error {
	body := map[string]any{
		"offers": []map[string]string{{
			"sku":   sku,
			"price": priceString(newPrice),
		}},
	}
	return m.rest.doJSON(ctx, http.MethodPost, "/api/offers/price", "update_price", body, nil)
}

func (m *miraklAdapter) Close() {
	m.mu.Lock()
	if m.stream != nil {
		m.stream.Stop()
		m.stream = nil
	}
	m.mu.Unlock()
	m.rest.client.CloseIdleConnections()
}
