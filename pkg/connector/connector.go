// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package connector wraps one integration's outbound HTTP surface with its
// circuit breaker, rate limiter, response cache and call metrics.
//
// A Connector is created lazily by the Registry on first use and lives for
// the rest of the process. Its state is derived from the breaker, the recent
// error rate and explicit enable/disable calls.
package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/loganrossus/OpenConduit/pkg/breaker"
	"github.com/loganrossus/OpenConduit/pkg/cache"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/credentials"
	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/metrics"
	"github.com/loganrossus/OpenConduit/pkg/ratelimit"
)

// ThrottleLogInterval is the minimum spacing of "rate limit exceeded"
// warnings per connector.
const ThrottleLogInterval = 10 * time.Second

// Call is one outbound request. Path is relative to the integration base URL
// and has already been rendered.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Timeout overrides the integration timeout when positive.
	Timeout time.Duration

	// Queue waits for limiter capacity instead of failing as throttled.
	Queue bool
}

// Response is a successful upstream response. Upstream errors also return
// a Response alongside the error when a status line was received.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Settings are process-wide connector defaults.
type Settings struct {
	Breaker           breaker.Config
	DegradedErrorRate float64
	OutcomeWindow     int
	MinSamples        int
	DefaultTimeout    time.Duration
	MaxResponseBytes  int64
	// ProbeTimeout bounds health probes. Zero uses the integration timeout.
	ProbeTimeout time.Duration
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Breaker:           breaker.DefaultConfig(),
		DegradedErrorRate: DefaultDegradedErrorRate,
		OutcomeWindow:     DefaultOutcomeWindow,
		MinSamples:        DefaultMinSamples,
		DefaultTimeout:    30 * time.Second,
		MaxResponseBytes:  10 << 20,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.DegradedErrorRate <= 0 || s.DegradedErrorRate > 1 {
		s.DegradedErrorRate = def.DegradedErrorRate
	}
	if s.OutcomeWindow <= 0 {
		s.OutcomeWindow = def.OutcomeWindow
	}
	if s.MinSamples <= 0 {
		s.MinSamples = def.MinSamples
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = def.DefaultTimeout
	}
	if s.MaxResponseBytes <= 0 {
		s.MaxResponseBytes = def.MaxResponseBytes
	}
	return s
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.client = client }
}

// WithCredentials sets the credential provider.
func WithCredentials(p credentials.Provider) Option {
	return func(c *Connector) { c.creds = p }
}

// WithCache sets the response cache owned by the connector.
func WithCache(cc cache.Cache) Option {
	return func(c *Connector) { c.cache = cc }
}

// WithSettings overrides the process defaults.
func WithSettings(s Settings) Option {
	return func(c *Connector) { c.settings = s }
}

// WithClock overrides the time source of the connector and its breaker and
// limiter.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// WithHealthChecker replaces the default TCP + HTTP health probe.
func WithHealthChecker(checker health.Checker) Option {
	return func(c *Connector) { c.checker = checker }
}

// WithResolver sets the resolver used by connectivity tests.
func WithResolver(r Resolver) Option {
	return func(c *Connector) { c.resolver = r }
}

// Connector is safe for concurrent use.
type Connector struct {
	id       string
	now      func() time.Time
	logger   *slog.Logger
	client   *http.Client
	creds    credentials.Provider
	cache    cache.Cache
	checker  health.Checker
	resolver Resolver
	settings Settings

	tcpCheck   *health.TCPChecker
	httpCheck  *health.HTTPChecker
	reachCheck *health.HTTPChecker

	breaker *breaker.Breaker
	limiter *ratelimit.Limiter

	// throttleLog samples throttle warnings so a flood logs once per interval.
	throttleLog *rate.Sometimes

	mu            sync.RWMutex
	integ         catalog.Integration
	state         State
	disabled      bool
	connected     bool
	lastHealthyAt time.Time
	lastError     string
	window        *outcomeWindow
	createdAt     time.Time

	total      atomic.Uint64
	successful atomic.Uint64
	failed     atomic.Uint64
	attempts   atomic.Uint64
	latencyNs  atomic.Int64
}

// New creates a connector for integ.
func New(integ catalog.Integration, opts ...Option) *Connector {
	c := &Connector{
		id:       integ.ID,
		now:      time.Now,
		settings: DefaultSettings(),
		integ:    integ,
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.settings = c.settings.withDefaults()
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "connector", "integration", integ.ID)
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.cache == nil {
		c.cache = cache.NewMemory()
	}
	c.tcpCheck = health.NewTCPChecker()
	c.httpCheck = health.NewHTTPChecker()
	reachable := make([]int, 0, 300)
	for code := 200; code < 500; code++ {
		reachable = append(reachable, code)
	}
	c.reachCheck = health.NewHTTPChecker(health.WithValidStatusCodes(reachable...))

	c.window = newOutcomeWindow(c.settings.OutcomeWindow)
	c.createdAt = c.now()

	c.breaker = breaker.New(integ.ID, breakerConfig(c.settings.Breaker, integ.CircuitBreaker),
		breaker.WithClock(c.now),
		breaker.WithLogger(c.logger),
		breaker.WithStateChange(func(name string, from, to breaker.State) {
			metrics.RecordBreakerTransition(name, string(from), string(to))
		}),
	)
	c.limiter = ratelimit.New(integ.ID, limiterConfig(integ), ratelimit.WithClock(c.now))
	c.throttleLog = &rate.Sometimes{Interval: ThrottleLogInterval}

	if !integ.IsEnabled {
		c.disabled = true
		c.state = StateDisabled
	}
	metrics.SetConnectorState(c.id, string(c.state))
	return c
}

func breakerConfig(def breaker.Config, s catalog.BreakerSettings) breaker.Config {
	cfg := def
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutMs > 0 {
		cfg.ResetTimeout = time.Duration(s.ResetTimeoutMs) * time.Millisecond
	}
	if s.MaxResetTimeoutMs > 0 {
		cfg.MaxResetTimeout = time.Duration(s.MaxResetTimeoutMs) * time.Millisecond
	}
	if s.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = s.BackoffMultiplier
	}
	return cfg
}

func limiterConfig(integ catalog.Integration) ratelimit.Config {
	return ratelimit.Config{
		PerMinute:     integ.RateLimitPerMinute,
		PerHour:       integ.RateLimitPerHour,
		MaxConcurrent: integ.MaxConcurrent,
		QueueSize:     integ.QueueSize,
	}
}

// ID returns the integration id.
func (c *Connector) ID() string { return c.id }

// Integration returns the current integration record.
func (c *Connector) Integration() catalog.Integration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.integ
}

// State returns the current state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Disabled reports whether calls fail fast.
func (c *Connector) Disabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

// Cache returns the connector's response cache.
func (c *Connector) Cache() cache.Cache { return c.cache }

// Breaker returns the connector's circuit breaker.
func (c *Connector) Breaker() *breaker.Breaker { return c.breaker }

// Limiter returns the connector's rate limiter.
func (c *Connector) Limiter() *ratelimit.Limiter { return c.limiter }

// Execute performs call through the breaker and limiter gates. A disabled
// connector fails fast. Calls abandoned because ctx ended are not counted
// against the breaker.
func (c *Connector) Execute(ctx context.Context, call Call) (*Response, error) {
	c.total.Add(1)

	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return nil, c.reject(fault.New(fault.KindIntegrationDisabled, "integration is disabled").WithIntegration(c.id))
	}
	if c.state == StateUninitialized {
		c.setStateLocked(StateConnecting)
	}
	integ := c.integ
	c.mu.Unlock()

	permit, err := c.breaker.Allow()
	if err != nil {
		c.refreshState()
		return nil, c.reject(err)
	}

	release, err := c.limiter.Acquire(ctx, call.Queue)
	if err != nil {
		c.breaker.Release(permit)
		if fault.KindOf(err) == fault.KindThrottled {
			metrics.RecordRateLimitDecision(c.id, "throttled")
			c.throttleLog.Do(func() {
				st := c.limiter.Stats()
				c.logger.Warn("rate limit exceeded",
					"retry_after", fault.RetryAfterOf(err),
					"throttled_total", st.ThrottledRequests,
					"queue", st.CurrentQueueSize,
				)
			})
		} else {
			metrics.RecordRateLimitDecision(c.id, "expired")
		}
		return nil, c.reject(err)
	}
	metrics.RecordRateLimitDecision(c.id, "admitted")
	c.publishLoad()
	defer func() {
		release()
		c.publishLoad()
	}()

	start := time.Now()
	resp, err := c.do(ctx, integ, call)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		c.breaker.Record(permit, true)
		c.successful.Add(1)
		c.settle(false, "")
	case ctx.Err() != nil:
		c.breaker.Release(permit)
		c.failed.Add(1)
		err = &fault.Error{Kind: fault.KindOf(ctx.Err()), Integration: c.id, Message: "call abandoned", Cause: ctx.Err()}
	case fault.CountsAsFailure(err):
		c.breaker.Record(permit, false)
		c.failed.Add(1)
		c.settle(true, err.Error())
	default:
		c.breaker.Release(permit)
		c.failed.Add(1)
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
	}
	metrics.RecordConnectorRequest(c.id, outcome(err), elapsed.Seconds())
	return resp, err
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(fault.KindOf(err))
}

func (c *Connector) reject(err error) error {
	c.failed.Add(1)
	metrics.RecordConnectorRequest(c.id, outcome(err), 0)
	return err
}

func (c *Connector) publishLoad() {
	st := c.limiter.Stats()
	metrics.SetRateLimitLoad(c.id, st.CurrentConcurrent, st.CurrentQueueSize)
}

// settle records a counted outcome and re-derives the state.
func (c *Connector) settle(failed bool, msg string) {
	bs := c.breaker.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.add(failed)
	if failed {
		c.lastError = msg
	} else if !c.connected {
		c.connected = true
		if c.state == StateConnecting || c.state == StateUninitialized {
			c.setStateLocked(StateConnected)
		}
	}
	c.deriveStateLocked(bs)
}

func (c *Connector) refreshState() {
	bs := c.breaker.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deriveStateLocked(bs)
}

func (c *Connector) deriveStateLocked(bs breaker.State) {
	if c.disabled {
		c.setStateLocked(StateDisabled)
		return
	}
	if bs != breaker.StateClosed {
		c.setStateLocked(StateCircuitOpen)
		return
	}
	switch c.state {
	case StateUninitialized, StateConnecting:
		return
	case StateCircuitOpen:
		c.window.reset()
		c.window.add(false)
		c.setStateLocked(StateConnected)
		return
	}
	if c.window.samples() >= c.settings.MinSamples && c.window.errorRate() > c.settings.DegradedErrorRate {
		c.setStateLocked(StateDegraded)
	} else {
		c.setStateLocked(StateConnected)
	}
}

func (c *Connector) setStateLocked(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	metrics.SetConnectorState(c.id, string(s))
	c.logger.Info("connector state changed", "from", string(from), "to", string(s))
}

func (c *Connector) do(ctx context.Context, integ catalog.Integration, call Call) (*Response, error) {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = integ.Timeout()
	}
	if timeout <= 0 {
		timeout = c.settings.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, integ, call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observeLatency(time.Since(start))
		return nil, c.classify(ctx, callCtx, err, timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.settings.MaxResponseBytes+1))
	elapsed := time.Since(start)
	c.observeLatency(elapsed)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err, timeout)
	}
	if int64(len(body)) > c.settings.MaxResponseBytes {
		return nil, &fault.Error{
			Kind:        fault.KindUpstream,
			Integration: c.id,
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("response exceeds %d bytes", c.settings.MaxResponseBytes),
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   elapsed,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &fault.Error{
			Kind:        fault.KindUpstream,
			Integration: c.id,
			StatusCode:  resp.StatusCode,
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:     fmt.Sprintf("upstream returned %d", resp.StatusCode),
		}
	}
	return out, nil
}

func (c *Connector) classify(parent, callCtx context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return &fault.Error{Kind: fault.KindOf(parent.Err()), Integration: c.id, Cause: err}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &fault.Error{
			Kind:        fault.KindTimeout,
			Integration: c.id,
			Message:     fmt.Sprintf("no response within %s", timeout),
			Cause:       err,
		}
	}
	return &fault.Error{Kind: fault.KindTransport, Integration: c.id, Cause: err}
}

func (c *Connector) observeLatency(d time.Duration) {
	c.attempts.Add(1)
	c.latencyNs.Add(int64(d))
}

func (c *Connector) newRequest(ctx context.Context, integ catalog.Integration, call Call) (*http.Request, error) {
	u, err := health.Target{BaseURL: integ.BaseURL, Path: call.Path}.URL()
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindConfig, Integration: c.id, Cause: err}
	}
	if len(call.Query) > 0 {
		q := u.Query()
		for k, vs := range call.Query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindConfig, Integration: c.id, Cause: err}
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range integ.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range call.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.authorize(ctx, integ, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Connector) authorize(ctx context.Context, integ catalog.Integration, req *http.Request) error {
	if integ.AuthType == "" || integ.AuthType == catalog.AuthNone {
		return nil
	}
	cred, err := c.credential(ctx, integ)
	if err != nil {
		return err
	}
	if err := credentials.Apply(req, integ.AuthType, cred); err != nil {
		return &fault.Error{Kind: fault.KindConfig, Integration: c.id, Op: "authorize", Cause: err}
	}
	return nil
}

func (c *Connector) credential(ctx context.Context, integ catalog.Integration) (credentials.Credential, error) {
	if c.creds == nil {
		return credentials.Credential{}, fault.New(fault.KindConfig, "no credential provider for %s auth", integ.AuthType).WithIntegration(c.id)
	}
	cred, err := c.creds.Lookup(ctx, integ.CredentialRef)
	if err != nil {
		return credentials.Credential{}, &fault.Error{Kind: fault.KindConfig, Integration: c.id, Op: "credentials", Cause: err}
	}
	return cred, nil
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// CheckHealth probes the integration and updates the connector state. The
// probe does not pass through the breaker or limiter.
func (c *Connector) CheckHealth(ctx context.Context) health.Result {
	c.mu.RLock()
	integ, disabled := c.integ, c.disabled
	c.mu.RUnlock()

	if disabled {
		return health.Result{
			Error:     fault.New(fault.KindIntegrationDisabled, "integration is disabled").WithIntegration(c.id),
			Timestamp: c.now(),
		}
	}

	res := c.healthChecker(integ).Check(ctx, c.healthTarget(ctx, integ))

	bs := c.breaker.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Healthy {
		c.lastHealthyAt = c.now()
		if c.state == StateUninitialized || c.state == StateConnecting {
			c.connected = true
			c.setStateLocked(StateConnected)
		}
		if c.state == StateDegraded {
			c.deriveStateLocked(bs)
		}
		return res
	}
	c.lastError = res.Message()
	switch c.state {
	case StateUninitialized:
		c.setStateLocked(StateConnecting)
	case StateConnected:
		c.setStateLocked(StateDegraded)
	}
	return res
}

func (c *Connector) healthChecker(integ catalog.Integration) health.Checker {
	if c.checker != nil {
		return c.checker
	}
	if integ.HealthCheckPath == "" {
		return health.NewCompositeChecker(c.tcpCheck)
	}
	return health.NewCompositeChecker(c.tcpCheck, c.httpCheck)
}

func (c *Connector) healthTarget(ctx context.Context, integ catalog.Integration) health.Target {
	header := make(http.Header, len(integ.Headers))
	for k, v := range integ.Headers {
		header.Set(k, v)
	}
	timeout := c.settings.ProbeTimeout
	if timeout <= 0 {
		timeout = integ.Timeout()
	}
	if timeout <= 0 {
		timeout = c.settings.DefaultTimeout
	}
	return health.Target{
		BaseURL: integ.BaseURL,
		Path:    integ.HealthCheckPath,
		Header:  header,
		Prepare: func(r *http.Request) error { return c.authorize(ctx, integ, r) },
		Timeout: timeout,
	}
}

// Disable makes every subsequent Execute fail fast. In-flight calls finish.
func (c *Connector) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
	c.setStateLocked(StateDisabled)
}

// Enable lifts an administrative disable.
func (c *Connector) Enable() {
	bs := c.breaker.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disabled {
		return
	}
	c.disabled = false
	switch {
	case bs != breaker.StateClosed:
		c.setStateLocked(StateCircuitOpen)
	case c.connected:
		c.setStateLocked(StateConnected)
		c.deriveStateLocked(bs)
	default:
		c.setStateLocked(StateUninitialized)
	}
}

// Reconfigure applies a changed integration record in place. Breaker state
// and counters survive.
func (c *Connector) Reconfigure(integ catalog.Integration) {
	c.breaker.SetConfig(breakerConfig(c.settings.Breaker, integ.CircuitBreaker))
	c.limiter.SetConfig(limiterConfig(integ))

	c.mu.Lock()
	c.integ = integ
	c.mu.Unlock()

	if integ.IsEnabled {
		c.Enable()
	} else {
		c.Disable()
	}
}

// Metrics is a point-in-time view of a connector.
type Metrics struct {
	IntegrationID         string           `json:"integration_id"`
	Name                  string           `json:"name"`
	Category              catalog.Category `json:"category"`
	State                 State            `json:"state"`
	TotalRequests         uint64           `json:"total_requests"`
	SuccessfulRequests    uint64           `json:"successful_requests"`
	FailedRequests        uint64           `json:"failed_requests"`
	AverageResponseTimeMs float64          `json:"average_response_time_ms"`
	UptimeSeconds         float64          `json:"uptime_seconds"`
	RecentErrorRate       float64          `json:"recent_error_rate"`
	LastHealthyAt         *time.Time       `json:"last_healthy_at,omitempty"`
	LastError             string           `json:"last_error,omitempty"`
	Breaker               breaker.Snapshot `json:"circuit_breaker"`
	Limiter               ratelimit.Stats  `json:"rate_limiter"`
	Cache                 cache.Stats      `json:"cache"`
	CacheHitRate          float64          `json:"cache_hit_rate"`
}

// Metrics returns cumulative counters and the state of the owned gates.
func (c *Connector) Metrics() Metrics {
	c.mu.RLock()
	m := Metrics{
		IntegrationID:   c.id,
		Name:            c.integ.Name,
		Category:        c.integ.Category,
		State:           c.state,
		UptimeSeconds:   c.now().Sub(c.createdAt).Seconds(),
		RecentErrorRate: c.window.errorRate(),
		LastError:       c.lastError,
	}
	if !c.lastHealthyAt.IsZero() {
		t := c.lastHealthyAt
		m.LastHealthyAt = &t
	}
	c.mu.RUnlock()

	m.TotalRequests = c.total.Load()
	m.SuccessfulRequests = c.successful.Load()
	m.FailedRequests = c.failed.Load()
	if n := c.attempts.Load(); n > 0 {
		m.AverageResponseTimeMs = float64(c.latencyNs.Load()) / float64(n) / float64(time.Millisecond)
	}
	m.Breaker = c.breaker.Snapshot()
	m.Limiter = c.limiter.Stats()
	m.Cache = c.cache.Stats()
	m.CacheHitRate = m.Cache.HitRate()
	return m
}

// Close releases the connector's cache.
func (c *Connector) Close() error {
	return c.cache.Close()
}
