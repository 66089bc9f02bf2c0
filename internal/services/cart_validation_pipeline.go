package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/podshop/api/internal/addressverify"
	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/supplier"
)

const (
	defaultStockRegionToken = "EU"
	defaultMaxCartLines     = 50
	defaultMaxLineQuantity  = 100
)

// CartValidationPipelineDeps wires the upstream clients and policy of the cart validation pipeline.
type CartValidationPipelineDeps struct {
	Catalog   CatalogResolver
	Stock     StockResolver
	Addresses AddressValidator
	Shipping  ShippingEstimator

	// AllowedCountries is the ISO 3166-1 alpha-2 allow-list checked before any paid verification call.
	AllowedCountries []string
	StockRegionToken string
	MaxLines         int
	MaxQuantity      int

	Logger  func(ctx context.Context, event string, fields map[string]any)
	Metrics *observability.CheckoutMetrics
}

type cartValidationPipeline struct {
	catalog   CatalogResolver
	stock     StockResolver
	addresses AddressValidator
	shipping  ShippingEstimator

	allowed     map[string]struct{}
	regionToken string
	maxLines    int
	maxQuantity int

	logger  func(ctx context.Context, event string, fields map[string]any)
	metrics *observability.CheckoutMetrics
}

var _ CartValidator = (*cartValidationPipeline)(nil)

// NewCartValidationPipeline constructs the pipeline validating required collaborators.
func NewCartValidationPipeline(deps CartValidationPipelineDeps) (CartValidator, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart validation: catalog client is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cart validation: stock client is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("cart validation: address validator is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("cart validation: shipping estimator is required")
	}

	allowed := make(map[string]struct{}, len(deps.AllowedCountries))
	for _, country := range deps.AllowedCountries {
		code := strings.ToUpper(strings.TrimSpace(country))
		if code != "" {
			allowed[code] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, errors.New("cart validation: at least one allowed country is required")
	}

	token := strings.ToUpper(strings.TrimSpace(deps.StockRegionToken))
	if token == "" {
		token = defaultStockRegionToken
	}
	maxLines := deps.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxCartLines
	}
	maxQuantity := deps.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = defaultMaxLineQuantity
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartValidationPipeline{
		catalog:     deps.Catalog,
		stock:       deps.Stock,
		addresses:   deps.Addresses,
		shipping:    deps.Shipping,
		allowed:     allowed,
		regionToken: token,
		maxLines:    maxLines,
		maxQuantity: maxQuantity,
		logger:      logger,
		metrics:     deps.Metrics,
	}, nil
}

// pipelineRun is the scratch state of one invocation. Nothing outlives it.
type pipelineRun struct {
	requested []domain.CartLineRequest
	lines     []domain.PricedLineItem
	dropped   []domain.DroppedLine
	currency  string
	address   domain.NormalizedAddress
	costs     domain.CostEstimate
	vat       decimal.Decimal
	options   []domain.ShippingOption
}

// Validate runs every stage in order and stops at the first failure.
func (p *cartValidationPipeline) Validate(ctx context.Context, cmd CartValidationCommand) (CartValidationResult, error) {
	run := &pipelineRun{}

	stages := []struct {
		stage Stage
		fn    func(context.Context, *pipelineRun, CartValidationCommand) error
	}{
		{StageParse, p.parse},
		{StageCatalog, p.resolveCatalog},
		{StageStock, p.resolveStock},
		{StageAddress, p.verifyAddress},
		{StageCosts, p.estimateCosts},
		{StageRates, p.quoteRates},
	}

	for _, step := range stages {
		if err := ctx.Err(); err != nil {
			return CartValidationResult{}, p.fail(ctx, step.stage, stageError(step.stage, ErrCheckoutUnavailable, err))
		}
		if err := step.fn(ctx, run, cmd); err != nil {
			return CartValidationResult{}, p.fail(ctx, step.stage, err)
		}
	}

	p.metrics.RecordOutcome(ctx, string(StageRates), "ok")
	p.logger(ctx, "checkout.pipeline.validated", map[string]any{
		"lines":    len(run.lines),
		"dropped":  len(run.dropped),
		"currency": run.currency,
		"vat":      run.vat.String(),
		"options":  len(run.options),
		"country":  run.address.Country,
	})

	return CartValidationResult{
		Lines:           run.lines,
		Dropped:         run.dropped,
		Address:         run.address,
		Costs:           run.costs,
		VATFactor:       run.vat,
		ShippingOptions: run.options,
		Currency:        run.currency,
	}, nil
}

func (p *cartValidationPipeline) fail(ctx context.Context, stage Stage, err error) error {
	p.metrics.RecordOutcome(ctx, string(stage), "error")
	p.logger(ctx, "checkout.pipeline.stage_failed", map[string]any{
		"stage": string(stage),
		"error": err.Error(),
	})
	return err
}

// parse validates the cart shape and merges duplicate lines for the same variant.
func (p *cartValidationPipeline) parse(_ context.Context, run *pipelineRun, cmd CartValidationCommand) error {
	payloadErr := &PayloadError{}
	if len(cmd.Lines) == 0 {
		payloadErr.add("items", "must contain at least one line")
	}
	if len(cmd.Lines) > p.maxLines {
		payloadErr.add("items", fmt.Sprintf("must contain at most %d lines", p.maxLines))
	}

	type lineKey struct{ product, variant int64 }
	merged := make(map[lineKey]int, len(cmd.Lines))
	order := make([]lineKey, 0, len(cmd.Lines))
	variantOwner := make(map[int64]int64, len(cmd.Lines))

	for i, line := range cmd.Lines {
		field := fmt.Sprintf("items[%d]", i)
		valid := true
		if line.CatalogProductID <= 0 {
			payloadErr.add(field+".catalogProductId", "must be a positive integer")
			valid = false
		}
		if line.CatalogVariantID <= 0 {
			payloadErr.add(field+".catalogVariantId", "must be a positive integer")
			valid = false
		}
		if line.Quantity < 1 || line.Quantity > p.maxQuantity {
			payloadErr.add(field+".quantity", fmt.Sprintf("must be between 1 and %d", p.maxQuantity))
			valid = false
		}
		if !valid {
			continue
		}
		if owner, ok := variantOwner[line.CatalogVariantID]; ok && owner != line.CatalogProductID {
			payloadErr.add(field+".catalogVariantId", "variant listed under two products")
			continue
		}
		variantOwner[line.CatalogVariantID] = line.CatalogProductID

		key := lineKey{line.CatalogProductID, line.CatalogVariantID}
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] += line.Quantity
		if merged[key] > p.maxQuantity {
			payloadErr.add(field+".quantity", fmt.Sprintf("combined quantity exceeds %d", p.maxQuantity))
		}
	}

	if strings.TrimSpace(cmd.Address.Address1) == "" {
		payloadErr.add("address.address1", "is required")
	}
	if len(strings.TrimSpace(cmd.Address.CountryCode)) != 2 {
		payloadErr.add("address.countryCode", "must be an ISO 3166-1 alpha-2 code")
	}

	if !payloadErr.empty() {
		return stageError(StageParse, ErrInvalidPayload, payloadErr)
	}

	run.requested = make([]domain.CartLineRequest, 0, len(order))
	for _, key := range order {
		run.requested = append(run.requested, domain.CartLineRequest{
			CatalogProductID: key.product,
			CatalogVariantID: key.variant,
			Quantity:         merged[key],
		})
	}
	return nil
}

// resolveCatalog swaps client ids for freshly fetched catalog variants. Unknown variants are dropped.
// The first resolved line fixes the cart currency; lines priced in another currency are dropped.
func (p *cartValidationPipeline) resolveCatalog(ctx context.Context, run *pipelineRun, _ CartValidationCommand) error {
	productIDs := make([]int64, 0, len(run.requested))
	for _, line := range run.requested {
		productIDs = append(productIDs, line.CatalogProductID)
	}

	resolved, err := p.catalog.ResolveVariants(ctx, productIDs)
	if err != nil {
		return stageError(StageCatalog, ErrCatalogUnavailable, err)
	}

	run.lines = make([]domain.PricedLineItem, 0, len(run.requested))
	for _, line := range run.requested {
		variant, ok := findVariant(resolved[line.CatalogProductID], line.CatalogVariantID)
		if !ok {
			run.dropped = append(run.dropped, domain.DroppedLine{Line: line, Reason: domain.DropNotInCatalog})
			continue
		}
		if run.currency == "" {
			run.currency = variant.Currency
		}
		if variant.Currency != run.currency {
			run.dropped = append(run.dropped, domain.DroppedLine{Line: line, Reason: domain.DropCurrencyMismatch})
			continue
		}
		run.lines = append(run.lines, domain.PricedLineItem{Variant: variant, Quantity: line.Quantity})
	}

	if len(run.lines) == 0 {
		return stageError(StageCatalog, ErrNoPurchasableItems, errors.New("no cart line matched the catalog"))
	}
	return nil
}

// resolveStock marks each line with the regional stock rule and removes the ones not in stock.
func (p *cartValidationPipeline) resolveStock(ctx context.Context, run *pipelineRun, _ CartValidationCommand) error {
	baseIDs := make([]int64, 0, len(run.lines))
	for _, line := range run.lines {
		baseIDs = append(baseIDs, line.Variant.BaseVariantID)
	}

	records, err := p.stock.ResolveAvailability(ctx, baseIDs)
	if err != nil {
		return stageError(StageStock, ErrCatalogUnavailable, err)
	}
	index := domain.IndexAvailability(records)

	inStock := run.lines[:0]
	for _, line := range run.lines {
		line.InStock = domain.IsPurchasable(index, line.Variant.BaseVariantID, p.regionToken)
		if !line.InStock {
			run.dropped = append(run.dropped, domain.DroppedLine{
				Line: domain.CartLineRequest{
					CatalogProductID: line.Variant.CatalogProductID,
					CatalogVariantID: line.Variant.ID,
					Quantity:         line.Quantity,
				},
				Reason: domain.DropOutOfStock,
			})
			continue
		}
		inStock = append(inStock, line)
	}
	run.lines = inStock

	if len(run.lines) == 0 {
		return stageError(StageStock, ErrNoPurchasableItems, errors.New("no cart line is in stock"))
	}
	return nil
}

// verifyAddress gates on the country allow-list before spending a verification call.
func (p *cartValidationPipeline) verifyAddress(ctx context.Context, run *pipelineRun, cmd CartValidationCommand) error {
	country := strings.ToUpper(strings.TrimSpace(cmd.Address.CountryCode))
	if !p.countryAllowed(country) {
		return stageError(StageAddress, ErrCountryNotServed, fmt.Errorf("country %q", country))
	}

	raw := cmd.Address
	raw.CountryCode = country
	normalized, err := p.addresses.Validate(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, addressverify.ErrInvalid):
			return stageError(StageAddress, ErrAddressInvalid, err)
		case errors.Is(err, addressverify.ErrUnverifiable):
			return stageError(StageAddress, ErrAddressUnverifiable, err)
		default:
			return stageError(StageAddress, ErrAddressVerificationUnavailable, err)
		}
	}
	if !normalized.Status.Deliverable() {
		return stageError(StageAddress, ErrAddressUnverifiable, fmt.Errorf("status %q", normalized.Status))
	}
	if !p.countryAllowed(normalized.Country) {
		return stageError(StageAddress, ErrCountryNotServed, fmt.Errorf("normalized country %q", normalized.Country))
	}

	run.address = normalized
	return nil
}

// estimateCosts prices the surviving lines at retail and derives the VAT factor from the supplier costs.
func (p *cartValidationPipeline) estimateCosts(ctx context.Context, run *pipelineRun, _ CartValidationCommand) error {
	items := make([]supplier.CostItem, 0, len(run.lines))
	for _, line := range run.lines {
		items = append(items, supplier.CostItem{
			Quantity:      line.Quantity,
			SyncVariantID: line.Variant.ID,
			RetailPrice:   line.Variant.RetailPrice,
		})
	}

	estimate, err := p.shipping.EstimateCosts(ctx, run.address, items)
	if err != nil {
		return stageError(StageCosts, ErrEstimationFailed, err)
	}

	factor, err := domain.DeriveVATFactor(estimate.Costs)
	if err != nil {
		return stageError(StageCosts, ErrEstimationFailed, err)
	}
	if !estimate.Costs.Reconciles(decimal.RequireFromString("0.05")) {
		p.logger(ctx, "checkout.pipeline.costs_unreconciled", map[string]any{
			"subtotal": estimate.Costs.Subtotal.String(),
			"shipping": estimate.Costs.Shipping.String(),
			"discount": estimate.Costs.Discount.String(),
			"tax":      estimate.Costs.Tax.String(),
			"vat":      estimate.Costs.VAT.String(),
			"total":    estimate.Costs.Total.String(),
		})
	}

	run.costs = estimate
	run.vat = factor
	return nil
}

// quoteRates fetches the shipping options for the same surviving lines keyed by external variant id.
func (p *cartValidationPipeline) quoteRates(ctx context.Context, run *pipelineRun, _ CartValidationCommand) error {
	items := make([]supplier.RateItem, 0, len(run.lines))
	for _, line := range run.lines {
		items = append(items, supplier.RateItem{
			Quantity:          line.Quantity,
			ExternalVariantID: line.Variant.ExternalID,
		})
	}

	options, err := p.shipping.RateOptions(ctx, run.address, items, run.currency)
	if err != nil {
		return stageError(StageRates, ErrEstimationFailed, err)
	}
	if len(options) == 0 {
		return stageError(StageRates, ErrEstimationFailed, supplier.ErrEmptyResult)
	}

	run.options = options
	return nil
}

func (p *cartValidationPipeline) countryAllowed(country string) bool {
	_, ok := p.allowed[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

func findVariant(variants []domain.CanonicalVariant, variantID int64) (domain.CanonicalVariant, bool) {
	for _, variant := range variants {
		if variant.ID == variantID {
			return variant, true
		}
	}
	return domain.CanonicalVariant{}, false
}
