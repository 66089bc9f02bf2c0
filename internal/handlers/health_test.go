package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/services"
)

type fakeReadiness struct {
	report services.ReadinessReport
	err    error
}

func (f fakeReadiness) HealthReport(context.Context) (services.ReadinessReport, error) {
	return f.report, f.err
}

var _ services.SystemService = fakeReadiness{}

type readinessPayload struct {
	Status  string   `json:"status"`
	Details []string `json:"details"`
	Checks  map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latencyMs"`
	} `json:"checks"`
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2026, time.February, 2, 10, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2.3.1", CommitSHA: "9f1c2d", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{
		"status": "ok",
		"version": "2.3.1",
		"commitSha": "9f1c2d",
		"environment": "staging",
		"uptime": "1m30s",
		"timestamp": "2026-02-02T10:01:30Z"
	}`, rr.Body.String())
}

func TestReadyz(t *testing.T) {
	now := time.Date(2026, time.February, 2, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name        string
		system      services.SystemService
		wantCode    int
		wantStatus  string
		wantDetails []string
	}{
		{
			name:       "no system service",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all probes ok",
			system: fakeReadiness{report: services.ReadinessReport{
				Status:      domain.HealthOK,
				GeneratedAt: now,
				Probes: map[string]domain.ProbeResult{
					"supplier": {Status: domain.HealthOK, Latency: 42 * time.Millisecond, CheckedAt: now},
				},
			}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "degraded ledger stays in rotation",
			system: fakeReadiness{report: services.ReadinessReport{
				Status: domain.HealthDegraded,
				Probes: map[string]domain.ProbeResult{
					"supplier":  {Status: domain.HealthOK},
					"firestore": {Status: domain.HealthDegraded, Error: "deadline exceeded"},
				},
			}},
			wantCode:    http.StatusOK,
			wantStatus:  "degraded",
			wantDetails: []string{"firestore: deadline exceeded"},
		},
		{
			name: "supplier down",
			system: fakeReadiness{report: services.ReadinessReport{
				Status: domain.HealthDown,
				Probes: map[string]domain.ProbeResult{
					"pubsub":   {Status: domain.HealthDegraded, Error: "topic missing"},
					"supplier": {Status: domain.HealthDown, Error: "connection refused"},
				},
			}},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  "error",
			wantDetails: []string{"pubsub: topic missing", "supplier: connection refused"},
		},
		{
			name:        "service error",
			system:      fakeReadiness{err: errors.New("collect failed")},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  "error",
			wantDetails: []string{"collect failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tt.system != nil {
				opts = append(opts, WithHealthSystemService(tt.system))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			var body readinessPayload
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantDetails, body.Details)
			assert.NotNil(t, body.Checks)
		})
	}
}

func TestReadyzRendersProbeLatency(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(fakeReadiness{report: services.ReadinessReport{
		Status: domain.HealthOK,
		Probes: map[string]domain.ProbeResult{"supplier": {Status: domain.HealthOK, Latency: 1500 * time.Microsecond}},
	}}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body readinessPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Checks["supplier"].LatencyMS)
	assert.Equal(t, "ok", body.Checks["supplier"].Status)
}
