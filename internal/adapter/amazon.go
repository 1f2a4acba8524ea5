package adapter

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
)

// tokenRefreshMargin re-exchanges the refresh token slightly before the
// access token actually expires, so in-flight calls never carry a dead token.
const tokenRefreshMargin = time.Minute

// amazonAdapter serves the whole amazon_* family. Regional variants
// (amazon_us, amazon_eu, amazon_fe) share this implementation; the region
// only selects the endpoint configured for the concrete marketplace id.
type amazonAdapter struct {
	id     string
	region string
	rest   *restClient

	// refreshMu serializes token exchanges so concurrent callers trigger
	// at most one.
	refreshMu sync.Mutex

	mu           sync.RWMutex
	sellerID     string
	clientID     string
	clientSecret string
	refreshToken string
	accessToken  string
	tokenExpiry  time.Time
}

func NewAmazonAdapter(marketplaceID string, cfg config.MarketplaceConfig) MarketplaceAdapter {
	a := &amazonAdapter{
		id:     marketplaceID,
		region: strings.TrimPrefix(marketplaceID, "amazon_"),
		rest:   newRESTClient(marketplaceID, cfg),
	}
	a.rest.authorize = func(req *http.Request) {
		a.mu.RLock()
		token := a.accessToken
		a.mu.RUnlock()
		req.Header.Set("x-amz-access-token", token)
	}
	return a
}

func (a *amazonAdapter) MarketplaceID() string { return a.id }

type amazonTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (a *amazonAdapter) Initialize(ctx context.Context, creds model.Credentials) error {
	clientID := creds["client_id"]
	clientSecret := creds["client_secret"]
	refreshToken := creds["refresh_token"]
	sellerID := creds["seller_id"]
	if clientID == "" || clientSecret == "" || refreshToken == "" || sellerID == "" {
		return apperrors.NewAuthFailed("amazon credentials incomplete", nil)
	}

	a.mu.Lock()
	a.sellerID = sellerID
	a.clientID = clientID
	a.clientSecret = clientSecret
	a.refreshToken = refreshToken
	a.accessToken = ""
	a.tokenExpiry = time.Time{}
	a.mu.Unlock()

	return a.ensureToken(ctx)
}

// ensureToken re-exchanges the refresh token when the cached access token is
// missing or about to expire. Access tokens outlive neither the LWA
// expires_in window nor the adapter's cache lifetime, so every upstream call
// goes through here.
func (a *amazonAdapter) ensureToken(ctx context.Context) error {
	if a.tokenFresh() {
		return nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	if a.tokenFresh() {
		return nil
	}
	return a.exchangeToken(ctx)
}

func (a *amazonAdapter) tokenFresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accessToken != "" && time.Until(a.tokenExpiry) > tokenRefreshMargin
}

func (a *amazonAdapter) exchangeToken(ctx context.Context) error {
	a.mu.RLock()
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": a.refreshToken,
		"client_id":     a.clientID,
		"client_secret": a.clientSecret,
	}
	a.mu.RUnlock()

	var tok amazonTokenResponse
	err := a.rest.doJSON(ctx, http.MethodPost, "/auth/o2/token", "token", body, &tok)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrPermanentUpstream) {
			// LWA answers 400 invalid_grant for revoked refresh tokens.
			return apperrors.NewAuthFailed("amazon token exchange rejected", err)
		}
		return err
	}
	if tok.AccessToken == "" {
		return apperrors.NewAuthFailed("amazon token exchange returned no token", nil)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	a.mu.Lock()
	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	a.mu.Unlock()
	return nil
}

type amazonOffersResponse struct {
	Payload struct {
		Offers []struct {
			SellerID       string `json:"sellerId"`
			IsBuyBoxWinner bool   `json:"isBuyBoxWinner"`
			ListingPrice   struct {
				Amount string `json:"amount"`
			} `json:"listingPrice"`
		} `json:"offers"`
	} `json:"payload"`
}

func (a *amazonAdapter) GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	start := time.Now()
	if err := a.ensureToken(ctx); err != nil {
		return nil, err
	}

	var resp amazonOffersResponse
	if err := a.rest.doJSON(ctx, http.MethodGet, "/products/pricing/v0/items/"+sku+"/offers", "buybox", nil, &resp); err != nil {
		return nil, err
	}

	a.mu.RLock()
	sellerID := a.sellerID
	a.mu.RUnlock()

	result := &model.MonitoringResult{
		SKU:           sku,
		MarketplaceID: a.id,
		CheckedAt:     time.Now().UTC(),
	}
	for _, offer := range resp.Payload.Offers {
		price, err := minorUnits(offer.ListingPrice.Amount)
		if err != nil {
			continue
		}
		mine := offer.SellerID == sellerID
		if offer.IsBuyBoxWinner {
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

func (a *amazonAdapter) UpdatePrice(ctx context.Context, sku string, newPrice int64) error {
	if err := a.ensureToken(ctx); err != nil {
		return err
	}

	a.mu.RLock()
	sellerID := a.sellerID
	a.mu.RUnlock()

	body := map[string]any{
		"productType": "PRODUCT",
		"patches": []map[string]any{{
			"op":    "replace",
			"path":  "/attributes/purchasable_offer",
			"value": []map[string]string{{"amount": priceString(newPrice)}},
		}},
	}
	return a.rest.doJSON(ctx, http.MethodPatch, "/listings/2021-08-01/items/"+sellerID+"/"+sku, "update_price", body, nil)
}

func (a *amazonAdapter) Close() {
	a.rest.client.CloseIdleConnections()
}
