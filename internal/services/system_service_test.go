package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/podshop/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.ReadinessReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.ReadinessReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceStampsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	repo := &stubHealthRepository{report: domain.ReadinessReport{
		Status: domain.HealthOK,
		Probes: map[string]domain.ProbeResult{"supplier": {Status: domain.HealthOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "9f1c2e", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "9f1c2e" || report.Environment != "staging" {
		t.Fatalf("expected build info on report, got %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("expected uptime 90s, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceRollsUpBlankStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.ProbeResult
		want   domain.HealthStatus
	}{
		"degraded": {
			checks: map[string]domain.ProbeResult{
				"firestore": {Status: domain.HealthDegraded},
				"supplier":  {Status: domain.HealthOK},
			},
			want: domain.HealthDegraded,
		},
		"error wins": {
			checks: map[string]domain.ProbeResult{
				"firestore": {Status: domain.HealthDegraded},
				"supplier":  {Status: domain.HealthDown},
			},
			want: domain.HealthDown,
		},
		"no checks": {want: domain.HealthOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.ReadinessReport{Probes: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceCachesReportWithinTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.ReadinessReport{Status: domain.HealthOK}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheTTL:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("expected cached report to be reused, got %d collects", repo.calls)
	}

	now = now.Add(6 * time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected expired cache to trigger a new collect, got %d", repo.calls)
	}
}
