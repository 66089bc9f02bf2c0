package supplier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/fanout"
	"github.com/podshop/api/internal/platform/money"
)

type storeProductResult struct {
	SyncProduct  syncProduct   `json:"sync_product"`
	SyncVariants []syncVariant `json:"sync_variants"`
}

type syncProduct struct {
	ID           int64  `json:"id"`
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type syncVariant struct {
	ID            int64              `json:"id"`
	ExternalID    string             `json:"external_id"`
	SyncProductID int64              `json:"sync_product_id"`
	Name          string             `json:"name"`
	VariantID     int64              `json:"variant_id"`
	RetailPrice   string             `json:"retail_price"`
	Currency      string             `json:"currency"`
	SKU           string             `json:"sku"`
	Product       syncVariantProduct `json:"product"`
	Files         []syncVariantFile  `json:"files"`
}

type syncVariantProduct struct {
	VariantID int64  `json:"variant_id"`
	ProductID int64  `json:"product_id"`
	Image     string `json:"image"`
	Name      string `json:"name"`
}

type syncVariantFile struct {
	Type         string `json:"type"`
	PreviewURL   string `json:"preview_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// ResolveVariants fetches each distinct store product concurrently and keeps whatever resolves.
// Per-product failures are logged and skipped; ErrNoResults is returned only when nothing resolved.
func (c *Client) ResolveVariants(ctx context.Context, productIDs []int64) (map[int64][]domain.CanonicalVariant, error) {
	ids := positiveDistinct(productIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no catalog product ids", ErrInvalidRequest)
	}

	outcomes := fanout.Settle(ctx, ids, c.fanoutLimit, c.fetchStoreProduct)

	resolved := make(map[int64][]domain.CanonicalVariant, len(ids))
	var lastErr error
	for _, outcome := range outcomes {
		if !outcome.OK() {
			lastErr = outcome.Err
			c.logger.Warn("supplier: catalog lookup failed",
				zap.Int64("catalog_product_id", outcome.Key),
				zap.Error(outcome.Err),
			)
			continue
		}
		resolved[outcome.Key] = outcome.Value
	}

	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: catalog: %w", ErrNoResults, lastErr)
	}
	return resolved, nil
}

func (c *Client) fetchStoreProduct(ctx context.Context, productID int64) ([]domain.CanonicalVariant, error) {
	var result storeProductResult
	path := fmt.Sprintf("/store/products/%d", productID)
	if err := c.call(ctx, "catalog.product", http.MethodGet, path, true, nil, &result); err != nil {
		return nil, err
	}

	variants := make([]domain.CanonicalVariant, 0, len(result.SyncVariants))
	for _, raw := range result.SyncVariants {
		variant, err := canonicalVariant(productID, result.SyncProduct, raw)
		if err != nil {
			c.logger.Warn("supplier: skipping malformed catalog variant",
				zap.Int64("catalog_product_id", productID),
				zap.Int64("catalog_variant_id", raw.ID),
				zap.Error(err),
			)
			continue
		}
		variants = append(variants, variant)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: catalog product %d has no usable variants", ErrEmptyResult, productID)
	}
	return variants, nil
}

func canonicalVariant(productID int64, product syncProduct, raw syncVariant) (domain.CanonicalVariant, error) {
	if raw.ID <= 0 {
		return domain.CanonicalVariant{}, fmt.Errorf("missing variant id")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw.RetailPrice))
	if err != nil {
		return domain.CanonicalVariant{}, fmt.Errorf("invalid retail price %q: %w", raw.RetailPrice, err)
	}
	if !price.IsPositive() {
		return domain.CanonicalVariant{}, fmt.Errorf("non-positive retail price %s", price)
	}
	currency, err := money.NormalizeCurrency(raw.Currency)
	if err != nil {
		return domain.CanonicalVariant{}, err
	}

	baseVariantID := raw.Product.VariantID
	if baseVariantID == 0 {
		baseVariantID = raw.VariantID
	}
	if baseVariantID <= 0 {
		return domain.CanonicalVariant{}, fmt.Errorf("missing base variant id")
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = strings.TrimSpace(product.Name)
	}

	return domain.CanonicalVariant{
		ID:               raw.ID,
		CatalogProductID: productID,
		BaseProductID:    raw.Product.ProductID,
		BaseVariantID:    baseVariantID,
		RetailPrice:      price,
		Currency:         currency,
		Name:             name,
		ThumbnailURL:     thumbnail(product, raw),
		SKU:              strings.TrimSpace(raw.SKU),
		ExternalID:       strings.TrimSpace(raw.ExternalID),
	}, nil
}

func thumbnail(product syncProduct, raw syncVariant) string {
	for _, file := range raw.Files {
		if file.Type == "preview" && file.PreviewURL != "" {
			return file.PreviewURL
		}
	}
	if raw.Product.Image != "" {
		return raw.Product.Image
	}
	return product.ThumbnailURL
}

func positiveDistinct(ids []int64) []int64 {
	filtered := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			filtered = append(filtered, id)
		}
	}
	return fanout.Distinct(filtered)
}
