package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/fanout"
)

// DependencyCheck is one readiness probe. A failing Critical dependency takes the instance down;
// other failures only degrade it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout sets the timeout for checks that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

// probeSet runs every DependencyCheck in parallel on each Collect.
type probeSet struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	seen := map[string]bool{}
	for i, c := range checks {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		case c.Check == nil:
			return nil, fmt.Errorf("health repository: check %s has no probe", name)
		case seen[name]:
			return nil, fmt.Errorf("health repository: duplicate check %s", name)
		}
		seen[name] = true
	}
	p := &probeSet{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: 1500 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.ReadinessReport, error) {
	if ctx == nil {
		return domain.ReadinessReport{}, errors.New("health repository: nil context")
	}
	names := make([]string, len(p.checks))
	byName := make(map[string]DependencyCheck, len(p.checks))
	for i, c := range p.checks {
		names[i] = c.Name
		byName[c.Name] = c
	}

	report := domain.ReadinessReport{
		Status: domain.HealthOK,
		Probes: make(map[string]domain.ProbeResult, len(names)),
	}
	outcomes := fanout.Settle(ctx, names, 0, func(ctx context.Context, name string) (domain.ProbeResult, error) {
		return p.run(ctx, byName[name]), nil
	})
	for _, o := range outcomes {
		res := o.Value
		if !o.OK() && res.Status == domain.HealthOK {
			// the caller gave up while the probe was answering
			res.Status, res.Detail, res.Error = domain.HealthDown, "cancelled", o.Err.Error()
		}
		report.Probes[o.Key] = res

		switch {
		case res.Status == domain.HealthOK:
		case byName[o.Key].Critical:
			report.Status = domain.HealthDown
		default:
			report.Status = report.Status.Worst(domain.HealthDegraded)
		}
	}
	report.GeneratedAt = p.now()
	return report, nil
}

// run executes a single check. Timeouts and cancellations are reported as down; any other
// error is the dependency answering badly and counts as degraded.
func (p *probeSet) run(ctx context.Context, c DependencyCheck) domain.ProbeResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := c.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := p.now()

	res := domain.ProbeResult{Status: domain.HealthOK, Detail: "ok", Latency: finished.Sub(started), CheckedAt: finished}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Status, res.Detail = domain.HealthDown, "timeout"
	case errors.Is(err, context.Canceled):
		res.Status, res.Detail = domain.HealthDown, "cancelled"
	default:
		res.Status, res.Detail = domain.HealthDegraded, err.Error()
	}
	return res
}
