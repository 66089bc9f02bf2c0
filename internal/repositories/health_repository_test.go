package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/podshop/api/internal/domain"
)

func ok(context.Context) error { return nil }

func failWith(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDependencyHealthRepositoryStatusRollUp(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus domain.HealthStatus
		wantChecks map[string]domain.HealthStatus
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "supplier", Critical: true, Check: ok},
				{Name: "firestore", Check: ok},
			},
			wantStatus: domain.HealthOK,
			wantChecks: map[string]domain.HealthStatus{"supplier": domain.HealthOK, "firestore": domain.HealthOK},
		},
		{
			name: "optional ledger down degrades",
			checks: []DependencyCheck{
				{Name: "supplier", Critical: true, Check: ok},
				{Name: "firestore", Check: failWith(errors.New("unavailable"))},
			},
			wantStatus: domain.HealthDegraded,
			wantChecks: map[string]domain.HealthStatus{"supplier": domain.HealthOK, "firestore": domain.HealthDegraded},
		},
		{
			name: "critical supplier down fails",
			checks: []DependencyCheck{
				{Name: "supplier", Critical: true, Check: failWith(errors.New("connection refused"))},
				{Name: "pubsub", Check: ok},
			},
			wantStatus: domain.HealthDown,
			wantChecks: map[string]domain.HealthStatus{"supplier": domain.HealthDegraded, "pubsub": domain.HealthOK},
		},
		{
			name: "timeout reported as error",
			checks: []DependencyCheck{
				{Name: "pubsub", Timeout: 5 * time.Millisecond, Check: blockUntilDone},
			},
			wantStatus: domain.HealthDegraded,
			wantChecks: map[string]domain.HealthStatus{"pubsub": domain.HealthDown},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, now, report.GeneratedAt)
			require.Len(t, report.Probes, len(tc.wantChecks))
			for name, want := range tc.wantChecks {
				assert.Equal(t, want, report.Probes[name].Status, name)
				assert.Equal(t, now, report.Probes[name].CheckedAt, name)
			}
		})
	}
}

func TestDependencyHealthRepositoryRecordsFailureDetail(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "pubsub", Timeout: 5 * time.Millisecond, Check: blockUntilDone},
		{Name: "firestore", Check: failWith(errors.New("permission denied"))},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "timeout", report.Probes["pubsub"].Detail)
	assert.Contains(t, report.Probes["pubsub"].Error, "deadline exceeded")
	assert.Equal(t, "permission denied", report.Probes["firestore"].Error)
}

func TestDependencyHealthRepositoryDefaultTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "supplier", Check: blockUntilDone}},
		WithDependencyTimeout(5*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.HealthDown, report.Probes["supplier"].Status)
}

func TestNewDependencyHealthRepositoryValidates(t *testing.T) {
	_, err := NewDependencyHealthRepository(nil)
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: " ", Check: ok}})
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "supplier"}})
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "supplier", Check: ok}, {Name: "supplier", Check: ok}})
	assert.Error(t, err, "duplicate names")
}

func TestCollectOnCancelledContextMarksProbesDown(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "supplier", Critical: true, Check: ok}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := repo.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.HealthDown, report.Status)
	assert.Equal(t, domain.HealthDown, report.Probes["supplier"].Status)
}
