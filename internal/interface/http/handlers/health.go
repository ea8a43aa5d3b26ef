package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports on the services the API depends on.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	// Healthy is false when a required dependency fails.
	Healthy bool `json:"healthy"`

	// Ready is false when any dependency fails.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of pinging one dependency.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Pinger is implemented by the stores and the identity provider clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const defaultPingTimeout = 5 * time.Second

type dependency struct {
	name     string
	pinger   Pinger
	critical bool
}

// DependencyChecker pings registered dependencies concurrently, each under
// its own timeout. Registering a name again replaces the earlier entry.
type DependencyChecker struct {
	version string
	timeout time.Duration
	started time.Time

	mu   sync.RWMutex
	deps []dependency
}

// NewDependencyChecker creates a checker with no dependencies. A
// non-positive timeout selects 5s.
func NewDependencyChecker(version string, timeout time.Duration) *DependencyChecker {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return &DependencyChecker{version: version, timeout: timeout, started: time.Now()}
}

// Require registers a dependency the service cannot work without.
func (c *DependencyChecker) Require(name string, p Pinger) {
	c.register(dependency{name: name, pinger: p, critical: true})
}

// Watch registers a dependency whose failure only marks the service not ready.
func (c *DependencyChecker) Watch(name string, p Pinger) {
	c.register(dependency{name: name, pinger: p})
}

func (c *DependencyChecker) register(d dependency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.deps {
		if c.deps[i].name == d.name {
			c.deps[i] = d
			return
		}
	}
	c.deps = append(c.deps, d)
}

// Check pings every dependency and aggregates the results.
func (c *DependencyChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	deps := append([]dependency(nil), c.deps...)
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(deps)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(deps) == 0 {
		status.Message = "OK"
		return status
	}

	results := make([]CheckResult, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.ping(ctx, d)
		}()
	}
	wg.Wait()

	var failed []string
	for i, d := range deps {
		r := results[i]
		status.Checks[d.name] = r
		if r.Healthy {
			continue
		}
		status.Ready = false
		if r.Critical {
			status.Healthy = false
		}
		failed = append(failed, d.name)
	}

	if len(failed) == 0 {
		status.Message = "All checks passed"
	} else {
		sort.Strings(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func (c *DependencyChecker) ping(ctx context.Context, d dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := d.pinger.Ping(ctx)
	r := CheckResult{
		Healthy:  err == nil,
		Critical: d.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}
