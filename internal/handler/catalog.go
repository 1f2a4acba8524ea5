package handler

import (
	"context"
	"net/http"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

type ListingLister interface {
	ListActive(ctx context.Context) ([]*model.TrackedListing, error)
}

// CatalogHandler serves the read-only inventory surface: tracked listings and
// the marketplaces the engine can talk to.
type CatalogHandler struct {
	listings ListingLister
	monitors *monitor.Factory
	adapters *adapter.Factory
}

func NewCatalogHandler(listings ListingLister, monitors *monitor.Factory, adapters *adapter.Factory) *CatalogHandler {
	return &CatalogHandler{listings: listings, monitors: monitors, adapters: adapters}
}

func (h *CatalogHandler) ListListings(c *gin.Context) {
	all, err := h.listings.ListActive(c.Request.Context())
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}

	org := c.Query("org")
	out := make([]*model.TrackedListing, 0, len(all))
	for _, l := range all {
		if org != "" && l.OrganizationID != org {
			continue
		}
		out = append(out, l)
	}
	c.JSON(http.StatusOK, out)
}

func (h *CatalogHandler) ListMarketplaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"marketplaces":    h.monitors.ListSupported(),
		"cached_adapters": h.adapters.CachedCount(),
	})
}

// ClearAdapters evicts cached adapter instances so rotated credentials take
// effect without a restart. Admin surface.
func (h *CatalogHandler) ClearAdapters(c *gin.Context) {
	marketplaceID := c.Query("marketplace")
	if marketplaceID != "" && !h.monitors.IsSupported(marketplaceID) {
		c.Error(apperrors.NewUnsupportedMarketplace(marketplaceID))
		return
	}

	h.adapters.ClearAdapterInstances(marketplaceID)
	logger.Info("adapter cache cleared", "marketplace", marketplaceID)
	c.JSON(http.StatusOK, gin.H{"cached_adapters": h.adapters.CachedCount()})
}
