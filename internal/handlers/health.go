package handlers

import (
	"net/http"
	"time"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service consulted by /readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type livenessBody struct {
	Status      domain.HealthStatus `json:"status"`
	Version     string              `json:"version,omitempty"`
	CommitSHA   string              `json:"commitSha,omitempty"`
	Environment string              `json:"environment,omitempty"`
	Uptime      string              `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
}

type probeBody struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	Error     string              `json:"error,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
	CheckedAt string              `json:"checkedAt,omitempty"`
}

type readinessBody struct {
	Status      domain.HealthStatus  `json:"status"`
	Version     string               `json:"version,omitempty"`
	CommitSHA   string               `json:"commitSha,omitempty"`
	Environment string               `json:"environment,omitempty"`
	Uptime      string               `json:"uptime,omitempty"`
	GeneratedAt string               `json:"generatedAt"`
	Checks      map[string]probeBody `json:"checks"`
	Details     []string             `json:"details,omitempty"`
}

// Healthz answers liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, livenessBody{
		Status:      domain.HealthOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Only a down report answers 503; degraded instances stay in rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	report := domain.ReadinessReport{Status: domain.HealthOK, GeneratedAt: h.clock()}
	if h.system != nil {
		var err error
		report, err = h.system.HealthReport(r.Context())
		if err != nil {
			body := readinessBody{
				Status:      domain.HealthDown,
				GeneratedAt: h.clock().UTC().Format(time.RFC3339),
				Checks:      map[string]probeBody{},
				Details:     []string{err.Error()},
			}
			writeJSONResponse(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthDown {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, h.renderReadiness(report))
}

func (h *HealthHandlers) renderReadiness(report domain.ReadinessReport) readinessBody {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	body := readinessBody{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Checks:      make(map[string]probeBody, len(report.Probes)),
		Details:     report.Failures(),
	}
	if report.Uptime > 0 {
		body.Uptime = report.Uptime.Round(time.Second).String()
	}
	for name, p := range report.Probes {
		pb := probeBody{Status: p.Status, Detail: p.Detail, Error: p.Error, LatencyMS: p.Latency.Milliseconds()}
		if !p.CheckedAt.IsZero() {
			pb.CheckedAt = p.CheckedAt.UTC().Format(time.RFC3339Nano)
		}
		body.Checks[name] = pb
	}
	return body
}
