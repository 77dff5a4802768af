// pkg/health/health.go
// Package health runs dual-layer reachability diagnostics against a
// modem: an ICMP echo to the host and an HTTP fetch of its web UI,
// scored into a single status. The two layers separate "the device is
// gone" from "the device is up but its embedded server wedged", which
// changes what a failing poll cycle means.
package health

import (
	"context"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	//nolint:staticcheck // Ignore staticcheck warning for this import
	"github.com/go-ping/ping"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// Status classifies a device's reachability.
type Status string

const (
	// StatusHealthy: ping and web UI both answer.
	StatusHealthy Status = "healthy"
	// StatusDegraded: web UI answers but ping does not.
	StatusDegraded Status = "degraded"
	// StatusWebUIDown: ping answers but the web UI does not.
	StatusWebUIDown Status = "web_ui_down"
	// StatusUnreachable: neither layer answers.
	StatusUnreachable Status = "unreachable"
)

// Report is the outcome of one dual-layer check.
type Report struct {
	Status      Status
	Diagnosis   string
	PingSuccess bool
	PingLatency time.Duration
	HTTPSuccess bool
	HTTPLatency time.Duration
}

// Config tunes the checker.
type Config struct {
	PingCount  int           // echo requests per check
	Timeout    time.Duration // per-layer timeout
	Privileged bool          // raw ICMP sockets instead of UDP ping
}

// pingInterval spaces echo requests. The library default of one second
// would stretch a three-packet check past most poll timeouts.
const pingInterval = 200 * time.Millisecond

// Pinger is an interface for the ping library.
type Pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics

	SetPrivileged(bool)
	SetCount(int)
	SetInterval(time.Duration)
	SetTimeout(time.Duration)
	GetTimeout() time.Duration
}

type pingerFactoryFunc func(host string) (Pinger, error)

// Checker performs dual-layer checks over an existing device session.
type Checker struct {
	client        *transport.Client
	cfg           Config
	pingerFactory pingerFactoryFunc
	logger        zerolog.Logger
}

// NewChecker creates a checker sharing the device's transport session.
// Zero config values fall back to defaults. Privileged ping is
// downgraded when the process lacks the privileges to use it.
func NewChecker(client *transport.Client, cfg Config) *Checker {
	logger := log.With().Str("component", "health").Logger()

	if cfg.PingCount < 1 {
		cfg.PingCount = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Privileged && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		logger.Warn().Msg("Privileged ping requested, but process is not running as root. Falling back to unprivileged ping.")
		cfg.Privileged = false
	}

	return &Checker{
		client: client,
		cfg:    cfg,
		pingerFactory: func(host string) (Pinger, error) {
			p, err := ping.NewPinger(host)
			if err != nil {
				return nil, err
			}
			return &realPingerAdapter{p: p}, nil
		},
		logger: logger,
	}
}

// Check pings the host behind baseURL and fetches the web UI root, in
// parallel, and scores the combination. skipPing drops the ICMP layer
// for environments where raw or UDP ICMP is unavailable; a missing
// ping then never downgrades the status.
func (c *Checker) Check(ctx context.Context, baseURL string, skipPing bool) Report {
	var (
		wg      sync.WaitGroup
		pingOK  bool
		pingRTT time.Duration
		httpOK  bool
		httpRTT time.Duration
	)

	if !skipPing {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingOK, pingRTT = c.pingHost(ctx, baseURL)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		httpOK, httpRTT = c.fetchWebUI(ctx, baseURL)
	}()

	wg.Wait()

	report := Report{
		PingSuccess: pingOK,
		PingLatency: pingRTT,
		HTTPSuccess: httpOK,
		HTTPLatency: httpRTT,
	}

	switch {
	case httpOK && (pingOK || skipPing):
		report.Status = StatusHealthy
	case httpOK:
		report.Status = StatusDegraded
		report.Diagnosis = "web UI responds but host does not answer ping (ICMP may be filtered)"
	case pingOK:
		report.Status = StatusWebUIDown
		report.Diagnosis = "host answers ping but the web UI is not responding"
	case skipPing:
		report.Status = StatusUnreachable
		report.Diagnosis = "web UI not responding (ping skipped)"
	default:
		report.Status = StatusUnreachable
		report.Diagnosis = "no response to ping or HTTP"
	}

	c.logger.Debug().
		Str("status", string(report.Status)).
		Bool("ping", pingOK).
		Bool("http", httpOK).
		Msg("Health check completed")
	return report
}

func (c *Checker) pingHost(ctx context.Context, baseURL string) (bool, time.Duration) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return false, 0
	}
	host := u.Hostname()

	pinger, err := c.pingerFactory(host)
	if err != nil {
		c.logger.Warn().Str("host", host).Err(err).Msg("Failed to create pinger")
		return false, 0
	}
	pinger.SetPrivileged(c.cfg.Privileged)
	pinger.SetCount(c.cfg.PingCount)
	pinger.SetInterval(pingInterval)
	pinger.SetTimeout(c.cfg.Timeout)

	opCtx, opCancel := context.WithTimeout(ctx, pinger.GetTimeout()+500*time.Millisecond)
	defer opCancel()
	go func() {
		<-opCtx.Done()
		if opCtx.Err() != nil {
			pinger.Stop()
		}
	}()

	if err := pinger.Run(); err != nil {
		c.logger.Debug().Err(err).Str("host", host).Msg("Pinger.Run() error")
	}
	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return false, 0
	}
	return true, stats.AvgRtt
}

// fetchWebUI treats any completed HTTP exchange as proof of life. A
// login page or a 401 still means the embedded server is running.
func (c *Checker) fetchWebUI(ctx context.Context, baseURL string) (bool, time.Duration) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Get(reqCtx, baseURL)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", baseURL).Msg("Web UI did not answer")
		return false, 0
	}
	c.logger.Debug().Int("status", resp.StatusCode).Dur("latency", elapsed).Msg("Web UI answered")
	return true, elapsed
}

// ConsecutiveFailures counts poll failures in a row. The orchestrator
// drops its cached session and transport once the count crosses its
// failure threshold.
type ConsecutiveFailures struct {
	mu    sync.Mutex
	count int
}

// RecordSuccess resets the counter.
func (f *ConsecutiveFailures) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = 0
}

// RecordFailure increments the counter and returns the new count.
func (f *ConsecutiveFailures) RecordFailure() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.count
}

// Count returns the current run of failures.
func (f *ConsecutiveFailures) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// internal adapter: wraps github.com/go-ping/ping.Pinger to implement our Pinger interface
type realPingerAdapter struct {
	p *ping.Pinger
}

func (r *realPingerAdapter) Run() error                   { return r.p.Run() }
func (r *realPingerAdapter) Stop()                        { r.p.Stop() }
func (r *realPingerAdapter) Statistics() *ping.Statistics { return r.p.Statistics() }

func (r *realPingerAdapter) SetPrivileged(v bool)        { r.p.SetPrivileged(v) }
func (r *realPingerAdapter) SetCount(c int)              { r.p.Count = c }
func (r *realPingerAdapter) SetInterval(i time.Duration) { r.p.Interval = i }
func (r *realPingerAdapter) SetTimeout(t time.Duration)  { r.p.Timeout = t }
func (r *realPingerAdapter) GetTimeout() time.Duration   { return r.p.Timeout }
