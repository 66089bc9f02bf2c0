package supplier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/fanout"
)

type availabilityStatus struct {
	Region string `json:"region"`
	Status string `json:"status"`
}

type baseVariant struct {
	ID                 int64                `json:"id"`
	ProductID          int64                `json:"product_id"`
	Name               string               `json:"name"`
	InStock            bool                 `json:"in_stock"`
	AvailabilityStatus []availabilityStatus `json:"availability_status"`
}

type variantResult struct {
	Variant baseVariant `json:"variant"`
}

type productResult struct {
	Product struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	} `json:"product"`
	Variants []baseVariant `json:"variants"`
}

// ResolveAvailability fetches regional stock for each distinct base variant, keeping successes.
// Variants missing from the returned slice must be treated as not purchasable.
func (c *Client) ResolveAvailability(ctx context.Context, baseVariantIDs []int64) ([]domain.RegionalAvailability, error) {
	ids := positiveDistinct(baseVariantIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no base variant ids", ErrInvalidRequest)
	}

	outcomes := fanout.Settle(ctx, ids, c.fanoutLimit, c.fetchVariantAvailability)

	records := make([]domain.RegionalAvailability, 0, len(ids))
	var lastErr error
	for _, outcome := range outcomes {
		if !outcome.OK() {
			lastErr = outcome.Err
			c.logger.Warn("supplier: warehouse lookup failed",
				zap.Int64("base_variant_id", outcome.Key),
				zap.Error(outcome.Err),
			)
			continue
		}
		records = append(records, outcome.Value)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: warehouse: %w", ErrNoResults, lastErr)
	}
	return records, nil
}

// ResolveProductAvailability fetches regional stock for every variant of a base product in one call.
func (c *Client) ResolveProductAvailability(ctx context.Context, baseProductID int64) ([]domain.RegionalAvailability, error) {
	if baseProductID <= 0 {
		return nil, fmt.Errorf("%w: base product id must be positive", ErrInvalidRequest)
	}

	var result productResult
	path := fmt.Sprintf("/products/%d", baseProductID)
	if err := c.call(ctx, "warehouse.product", http.MethodGet, path, false, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Variants) == 0 {
		return nil, fmt.Errorf("%w: base product %d has no variants", ErrEmptyResult, baseProductID)
	}

	records := make([]domain.RegionalAvailability, 0, len(result.Variants))
	for _, variant := range result.Variants {
		if variant.ID <= 0 {
			continue
		}
		records = append(records, regionalAvailability(variant))
	}
	return records, nil
}

func (c *Client) fetchVariantAvailability(ctx context.Context, baseVariantID int64) (domain.RegionalAvailability, error) {
	var result variantResult
	path := fmt.Sprintf("/products/variant/%d", baseVariantID)
	if err := c.call(ctx, "warehouse.variant", http.MethodGet, path, false, nil, &result); err != nil {
		return domain.RegionalAvailability{}, err
	}
	if result.Variant.ID == 0 {
		result.Variant.ID = baseVariantID
	}
	if result.Variant.ID != baseVariantID {
		return domain.RegionalAvailability{}, fmt.Errorf("%w: asked for variant %d, got %d", ErrUpstream, baseVariantID, result.Variant.ID)
	}
	return regionalAvailability(result.Variant), nil
}

func regionalAvailability(variant baseVariant) domain.RegionalAvailability {
	regions := make([]domain.RegionStatus, 0, len(variant.AvailabilityStatus))
	for _, entry := range variant.AvailabilityStatus {
		region := strings.TrimSpace(entry.Region)
		if region == "" {
			continue
		}
		regions = append(regions, domain.RegionStatus{
			Region: region,
			Status: domain.StockStatus(strings.ToLower(strings.TrimSpace(entry.Status))),
		})
	}
	return domain.RegionalAvailability{VariantID: variant.ID, Regions: regions}
}
