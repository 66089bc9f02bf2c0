package repositories

import (
	"context"

	domain "github.com/podshop/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CheckoutLedger records every payment session handed to a buyer. Records are append only;
// recording the same session twice is not an error.
type CheckoutLedger interface {
	RecordSession(ctx context.Context, record domain.CheckoutSessionRecord) error
	FindSession(ctx context.Context, sessionID string) (domain.CheckoutSessionRecord, error)
}

// HealthRepository exposes dependency health checks for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}
