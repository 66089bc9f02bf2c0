package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/upstream"
	"github.com/podshop/api/internal/supplier"
)

// ErrProductNotFound indicates the warehouse does not know the requested base product.
var ErrProductNotFound = errors.New("availability: product not found")

// AvailabilityServiceDeps wires the warehouse client used by product detail pages.
type AvailabilityServiceDeps struct {
	Stock            ProductStockResolver
	StockRegionToken string
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type availabilityService struct {
	stock       ProductStockResolver
	regionToken string
	logger      func(ctx context.Context, event string, fields map[string]any)
}

var _ AvailabilityService = (*availabilityService)(nil)

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(deps AvailabilityServiceDeps) (AvailabilityService, error) {
	if deps.Stock == nil {
		return nil, errors.New("availability service: stock client is required")
	}
	token := strings.ToUpper(strings.TrimSpace(deps.StockRegionToken))
	if token == "" {
		token = defaultStockRegionToken
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &availabilityService{stock: deps.Stock, regionToken: token, logger: logger}, nil
}

// ProductAvailability reports per-variant purchasability for a base product family.
func (s *availabilityService) ProductAvailability(ctx context.Context, baseProductID int64) (ProductAvailability, error) {
	if baseProductID <= 0 {
		return ProductAvailability{}, fmt.Errorf("%w: product id must be positive", ErrInvalidPayload)
	}

	records, err := s.stock.ResolveProductAvailability(ctx, baseProductID)
	if err != nil {
		s.logger(ctx, "availability.lookup_failed", map[string]any{
			"productId": baseProductID,
			"error":     err.Error(),
		})
		var statusErr *upstream.StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
			return ProductAvailability{}, ErrProductNotFound
		case errors.Is(err, supplier.ErrEmptyResult):
			return ProductAvailability{}, ErrProductNotFound
		case ctx.Err() != nil:
			return ProductAvailability{}, ErrCheckoutUnavailable
		default:
			return ProductAvailability{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}

	out := ProductAvailability{
		BaseProductID: baseProductID,
		RegionToken:   s.regionToken,
		Variants:      make([]VariantAvailability, 0, len(records)),
	}
	for _, record := range records {
		out.Variants = append(out.Variants, VariantAvailability{
			VariantID:   record.VariantID,
			Purchasable: record.InStockIn(s.regionToken),
			Regions:     append([]domain.RegionStatus(nil), record.Regions...),
		})
	}
	sort.Slice(out.Variants, func(i, j int) bool {
		return out.Variants[i].VariantID < out.Variants[j].VariantID
	})
	return out, nil
}
