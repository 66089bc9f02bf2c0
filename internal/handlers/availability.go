package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/podshop/api/internal/platform/httpx"
	"github.com/podshop/api/internal/services"
)

// AvailabilityHandlers serves per-variant stock for product detail pages.
type AvailabilityHandlers struct {
	availability services.AvailabilityService
}

// NewAvailabilityHandlers constructs availability handlers.
func NewAvailabilityHandlers(availability services.AvailabilityService) *AvailabilityHandlers {
	return &AvailabilityHandlers{availability: availability}
}

// Routes registers availability endpoints under the provided router.
func (h *AvailabilityHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productId}/availability", h.productAvailability)
}

type regionPayload struct {
	Region string `json:"region"`
	Status string `json:"status"`
}

type variantAvailabilityPayload struct {
	VariantID   int64           `json:"variantId"`
	Purchasable bool            `json:"purchasable"`
	Regions     []regionPayload `json:"regions"`
}

type productAvailabilityResponse struct {
	ProductID   int64                        `json:"productId"`
	RegionToken string                       `json:"regionToken"`
	Variants    []variantAvailabilityPayload `json:"variants"`
}

func (h *AvailabilityHandlers) productAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.availability == nil {
		httpx.WriteError(ctx, w, httpx.NewError("availability_unavailable", "availability service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "productId")), 10, 64)
	if err != nil || productID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	result, err := h.availability.ProductAvailability(ctx, productID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := productAvailabilityResponse{
		ProductID:   result.BaseProductID,
		RegionToken: result.RegionToken,
		Variants:    make([]variantAvailabilityPayload, 0, len(result.Variants)),
	}
	for _, variant := range result.Variants {
		regions := make([]regionPayload, 0, len(variant.Regions))
		for _, region := range variant.Regions {
			regions = append(regions, regionPayload{Region: region.Region, Status: string(region.Status)})
		}
		resp.Variants = append(resp.Variants, variantAvailabilityPayload{
			VariantID:   variant.VariantID,
			Purchasable: variant.Purchasable,
			Regions:     regions,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
