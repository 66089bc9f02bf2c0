package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/repositories"
)

// BuildInfo identifies the running binary on /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps configures NewSystemService. CacheTTL > 0 reuses a report for that long, which
// keeps frequent readiness probes from spending the supplier's request quota.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	CacheTTL         time.Duration
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	probes singleflight.Group
	mu     sync.Mutex
	cached *ReadinessReport
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  build,
		ttl:    deps.CacheTTL,
	}, nil
}

// HealthReport probes the dependencies and stamps build metadata. Concurrent callers share a
// single probe run.
func (s *systemService) HealthReport(ctx context.Context) (ReadinessReport, error) {
	if report, ok := s.fresh(); ok {
		return s.stamp(report), nil
	}
	v, err, _ := s.probes.Do("readiness", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if report.GeneratedAt.IsZero() {
			report.GeneratedAt = s.now()
		}
		if report.Status == "" {
			report.Status = domain.HealthOK
			for _, probe := range report.Probes {
				report.Status = report.Status.Worst(probe.Status)
			}
		}
		if s.ttl > 0 {
			s.mu.Lock()
			s.cached = &report
			s.mu.Unlock()
		}
		return report, nil
	})
	if err != nil {
		return ReadinessReport{}, err
	}
	return s.stamp(v.(ReadinessReport)), nil
}

func (s *systemService) fresh() (ReadinessReport, bool) {
	if s.ttl <= 0 {
		return ReadinessReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || s.now().Sub(s.cached.GeneratedAt) >= s.ttl {
		return ReadinessReport{}, false
	}
	return *s.cached, true
}

func (s *systemService) stamp(report ReadinessReport) ReadinessReport {
	now := s.now()
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	report.Uptime = now.Sub(s.build.StartedAt)
	if report.Probes == nil {
		report.Probes = map[string]domain.ProbeResult{}
	}
	return report
}
