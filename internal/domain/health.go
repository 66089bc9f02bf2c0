package domain

import (
	"sort"
	"time"
)

// HealthStatus is the readiness verdict for one probe or the whole instance.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	// HealthDown takes the instance out of the load balancer.
	HealthDown HealthStatus = "error"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthOK, "":
		return 0
	case HealthDown:
		return 2
	default:
		return 1
	}
}

// Worst returns whichever of s and other is more severe.
func (s HealthStatus) Worst(other HealthStatus) HealthStatus {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return HealthOK
	}
	return s
}

// ProbeResult is one dependency probe.
type ProbeResult struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport is what /readyz renders.
type ReadinessReport struct {
	Status      HealthStatus
	Probes      map[string]ProbeResult
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Failures lists "name: error" for each probe that is not ok, ordered by name.
func (r ReadinessReport) Failures() []string {
	var out []string
	for _, name := range r.ProbeNames() {
		p := r.Probes[name]
		if p.Status.rank() > 0 && p.Error != "" {
			out = append(out, name+": "+p.Error)
		}
	}
	return out
}

// ProbeNames returns the probe names in sorted order.
func (r ReadinessReport) ProbeNames() []string {
	names := make([]string, 0, len(r.Probes))
	for name := range r.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
