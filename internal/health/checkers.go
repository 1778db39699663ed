package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
)

// Pinger is anything that can report its own liveness cheaply
type Pinger interface {
	Healthy(ctx context.Context) bool
}

// PingChecker probes a component through its Healthy method; used for the
// document store and the vector index.
type PingChecker struct {
	name     string
	target   Pinger
	critical bool
	timeout  time.Duration
}

func NewPingChecker(name string, target Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, target: target, critical: critical, timeout: 5 * time.Second}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: p.name, Critical: p.critical, Timestamp: start}
	if p.target.Healthy(ctx) {
		res.Status = StatusHealthy
		res.Message = p.name + " reachable"
	} else {
		res.Status = StatusUnhealthy
		res.Error = p.name + " ping failed"
	}
	res.Duration = time.Since(start)
	return res
}

// RedisChecker probes the cache hot tier. Redis only accelerates lookups,
// so its failure degrades the service rather than failing readiness.
type RedisChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

func NewRedisChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{client: client, wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: "redis", Critical: false, Timestamp: start}

	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		res.Status = StatusUnhealthy
		res.Error = "circuit breaker open"
		res.Duration = time.Since(start)
		return res
	}

	err := r.client.Ping(ctx).Err()
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		return res
	}
	if res.Duration > 100*time.Millisecond {
		res.Status = StatusDegraded
		res.Message = "redis responding with high latency"
		return res
	}
	res.Status = StatusHealthy
	res.Message = "redis healthy"
	return res
}

// ModelServiceChecker probes an HTTP model service (embedder, generator,
// reranker) on its health path.
type ModelServiceChecker struct {
	name     string
	url      string
	client   *http.Client
	critical bool
	timeout  time.Duration
}

func NewModelServiceChecker(name, baseURL string, critical bool) *ModelServiceChecker {
	timeout := 5 * time.Second
	return &ModelServiceChecker{
		name:     name,
		url:      baseURL + "/health",
		client:   &http.Client{Timeout: timeout},
		critical: critical,
		timeout:  timeout,
	}
}

func (m *ModelServiceChecker) Name() string           { return m.name }
func (m *ModelServiceChecker) IsCritical() bool       { return m.critical }
func (m *ModelServiceChecker) Timeout() time.Duration { return m.timeout }

func (m *ModelServiceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: m.name, Critical: m.critical, Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	resp, err := m.client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		res.Status = StatusUnhealthy
		res.Error = fmt.Sprintf("%s returned status %d", m.name, resp.StatusCode)
		return res
	}
	res.Status = StatusHealthy
	res.Message = m.name + " healthy"
	return res
}
