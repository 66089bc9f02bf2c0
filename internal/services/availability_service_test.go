package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/upstream"
	"github.com/podshop/api/internal/supplier"
)

type stubProductStock struct {
	records []domain.RegionalAvailability
	err     error
}

func (s *stubProductStock) ResolveProductAvailability(context.Context, int64) ([]domain.RegionalAvailability, error) {
	return s.records, s.err
}

func TestAvailabilityServiceReportsPurchasableVariants(t *testing.T) {
	stock := &stubProductStock{records: []domain.RegionalAvailability{
		{VariantID: 56, Regions: []domain.RegionStatus{{Region: "EU", Status: domain.StockOutOfStock}}},
		{VariantID: 55, Regions: []domain.RegionStatus{{Region: "EU_LV", Status: domain.StockInStock}}},
	}}
	svc, err := NewAvailabilityService(AvailabilityServiceDeps{Stock: stock})
	if err != nil {
		t.Fatalf("NewAvailabilityService: %v", err)
	}

	got, err := svc.ProductAvailability(context.Background(), 71)
	if err != nil {
		t.Fatalf("ProductAvailability: %v", err)
	}
	if got.RegionToken != "EU" || len(got.Variants) != 2 {
		t.Fatalf("unexpected availability %+v", got)
	}
	if got.Variants[0].VariantID != 55 || !got.Variants[0].Purchasable {
		t.Fatalf("expected variant 55 purchasable first, got %+v", got.Variants[0])
	}
	if got.Variants[1].Purchasable {
		t.Fatalf("expected variant 56 unavailable")
	}
}

func TestAvailabilityServiceErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", fmt.Errorf("%w: %w", supplier.ErrUpstream, &upstream.StatusError{StatusCode: http.StatusNotFound}), ErrProductNotFound},
		{"empty", supplier.ErrEmptyResult, ErrProductNotFound},
		{"upstream", fmt.Errorf("%w: %w", supplier.ErrUpstream, &upstream.StatusError{StatusCode: http.StatusBadGateway}), ErrCatalogUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewAvailabilityService(AvailabilityServiceDeps{Stock: &stubProductStock{err: tc.err}})
			if err != nil {
				t.Fatalf("NewAvailabilityService: %v", err)
			}
			_, err = svc.ProductAvailability(context.Background(), 71)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	svc, _ := NewAvailabilityService(AvailabilityServiceDeps{Stock: &stubProductStock{}})
	if _, err := svc.ProductAvailability(context.Background(), 0); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
