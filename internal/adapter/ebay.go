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

// ebayAdapter is a single-variant marketplace: the id must match exactly.
type ebayAdapter struct {
	id   string
	rest *restClient

	mu       sync.RWMutex
	token    string
	sellerID string
}

func NewEbayAdapter(marketplaceID string, cfg config.MarketplaceConfig) MarketplaceAdapter {
	e := &ebayAdapter{
		id:   marketplaceID,
		rest: newRESTClient(marketplaceID, cfg),
	}
	e.rest.authorize = func(req *http.Request) {
		e.mu.RLock()
		token := e.token
		e.mu.RUnlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e
}

func (e *ebayAdapter) MarketplaceID() string { return e.id }

func (e *ebayAdapter) Initialize(ctx context.Context, creds model.Credentials) error {
	token := creds["oauth_token"]
	sellerID := creds["seller_id"]
	if token == "" || sellerID == "" {
		return apperrors.NewAuthFailed("ebay credentials incomplete", nil)
	}

	e.mu.Lock()
	e.token = token
	e.sellerID = sellerID
	e.mu.Unlock()

	// Probe the token; an expired or revoked token answers 401 here.
	if err := e.rest.doJSON(ctx, http.MethodGet, "/sell/account/v1/privilege", "initialize", nil, nil); err != nil {
		return err
	}
	return nil
}

type ebayOffersResponse struct {
	Offers []struct {
		SellerID string `json:"sellerId"`
		Featured bool   `json:"featured"`
		Price    struct {
			Value string `json:"value"`
		} `json:"price"`
	} `json:"offers"`
}

func (e *ebayAdapter) GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	start := time.Now()

	var resp ebayOffersResponse
	if err := e.rest.doJSON(ctx, http.MethodGet, "/buy/browse/v1/item/get_items_by_sku?sku="+sku, "buybox", nil, &resp); err != nil {
		return nil, err
	}

	e.mu.RLock()
	sellerID := e.sellerID
	e.mu.RUnlock()

	result := &model.MonitoringResult{
		SKU:           sku,
		MarketplaceID: e.id,
		CheckedAt:     time.Now().UTC(),
	}
	for _, offer := range resp.Offers {
		price, err := minorUnits(offer.Price.Value)
		if err != nil {
			continue
		}
		mine := offer.SellerID == sellerID
		if offer.Featured {
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

func (e *ebayAdapter) UpdatePrice(ctx context.Context, sku string, newPrice int64) error {
	body := map[string]any{
		"sku": sku,
		"price": map[string]string{
			"value":    priceString(newPrice),
			"currency": "USD",
		},
	}
	return e.rest.doJSON(ctx, http.MethodPut, "/sell/inventory/v1/offers/"+sku+"/price", "update_price", body, nil)
}

func (e *ebayAdapter) Close() {
	e.rest.client.CloseIdleConnections()
}
