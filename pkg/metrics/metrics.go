// Package metrics renders poll results as Prometheus metrics. The
// exporter keeps the latest PollResult per device and converts it to
// const metrics on every scrape, so a scrape never blocks on the modem
// itself.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
)

const namespace = "modem"

// deviceState is the last observed cycle for one device plus its
// degraded-cycle streak.
type deviceState struct {
	result   poller.PollResult
	failures int
}

// Exporter implements prometheus.Collector over the most recent poll
// cycle of every observed device. Feed it with Observe after each
// cycle; register it once.
type Exporter struct {
	mu      sync.Mutex
	devices map[string]*deviceState

	up           *prometheus.Desc
	deviceInfo   *prometheus.Desc
	pollDuration *prometheus.Desc
	failStreak   *prometheus.Desc
	channels     *prometheus.Desc

	downFrequency   *prometheus.Desc
	downPower       *prometheus.Desc
	downSNR         *prometheus.Desc
	downLocked      *prometheus.Desc
	downCorrected   *prometheus.Desc
	downUncorrected *prometheus.Desc

	upFrequency  *prometheus.Desc
	upPower      *prometheus.Desc
	upLocked     *prometheus.Desc
	upSymbolRate *prometheus.Desc
}

// NewExporter builds an exporter with no devices observed yet.
func NewExporter() *Exporter {
	deviceLabels := []string{"host"}
	channelLabels := []string{"host", "id", "scheme"}

	return &Exporter{
		devices: make(map[string]*deviceState),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Whether the last poll cycle produced data (1=ok, 0=degraded)",
			deviceLabels, nil,
		),
		deviceInfo: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "info"),
			"Constant 1, labeled with what the poller learned about the device",
			[]string{"host", "capability", "auth"}, nil,
		),
		pollDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "poll", "duration_seconds"),
			"Wall time of the last poll cycle",
			deviceLabels, nil,
		),
		failStreak: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "poll", "consecutive_failures"),
			"Degraded cycles observed since the last good one",
			deviceLabels, nil,
		),
		channels: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "channels"),
			"Locked channel count per direction",
			[]string{"host", "direction"}, nil,
		),
		downFrequency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "frequency"),
			"Downstream center frequency in Hz",
			channelLabels, nil,
		),
		downPower: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "power"),
			"Downstream power level in dBmV",
			channelLabels, nil,
		),
		downSNR: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "snr"),
			"Downstream SNR (RxMER for OFDM) in dB",
			channelLabels, nil,
		),
		downLocked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "locked"),
			"Downstream channel lock status (1=locked, 0=unlocked)",
			channelLabels, nil,
		),
		downCorrected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "corrected_total"),
			"Corrected codewords per channel",
			channelLabels, nil,
		),
		downUncorrected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "downstream", "uncorrected_total"),
			"Uncorrectable codewords per channel",
			channelLabels, nil,
		),
		upFrequency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "frequency"),
			"Upstream center frequency in Hz",
			channelLabels, nil,
		),
		upPower: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "power"),
			"Upstream transmit power in dBmV",
			channelLabels, nil,
		),
		upLocked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "locked"),
			"Upstream channel lock status (1=locked, 0=unlocked)",
			channelLabels, nil,
		),
		upSymbolRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "symbol_rate"),
			"Upstream symbol rate in kSym/s",
			channelLabels, nil,
		),
	}
}

// Observe records the outcome of one poll cycle. Degraded cycles
// replace the stored result too, so stale channel readings disappear
// from the scrape instead of lingering.
func (e *Exporter) Observe(result poller.PollResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.devices[result.Host]
	if !ok {
		state = &deviceState{}
		e.devices[result.Host] = state
	}
	state.result = result
	if result.Degraded() {
		state.failures++
	} else {
		state.failures = 0
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.deviceInfo
	ch <- e.pollDuration
	ch <- e.failStreak
	ch <- e.channels
	ch <- e.downFrequency
	ch <- e.downPower
	ch <- e.downSNR
	ch <- e.downLocked
	ch <- e.downCorrected
	ch <- e.downUncorrected
	ch <- e.upFrequency
	ch <- e.upPower
	ch <- e.upLocked
	ch <- e.upSymbolRate
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for host, state := range e.devices {
		result := state.result

		upVal := 1.0
		if result.Degraded() {
			upVal = 0.0
		}
		ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, upVal, host)
		ch <- prometheus.MustNewConstMetric(e.deviceInfo, prometheus.GaugeValue, 1,
			host, result.CapabilityID, result.AuthStrategy)
		ch <- prometheus.MustNewConstMetric(e.pollDuration, prometheus.GaugeValue,
			result.Elapsed.Seconds(), host)
		ch <- prometheus.MustNewConstMetric(e.failStreak, prometheus.GaugeValue,
			float64(state.failures), host)
		ch <- prometheus.MustNewConstMetric(e.channels, prometheus.GaugeValue,
			float64(result.Aggregates.DownstreamCount), host, "downstream")
		ch <- prometheus.MustNewConstMetric(e.channels, prometheus.GaugeValue,
			float64(result.Aggregates.UpstreamCount), host, "upstream")

		for _, c := range result.Downstream {
			labels := []string{host, strconv.Itoa(c.ChannelID), channelScheme(c)}
			ch <- prometheus.MustNewConstMetric(e.downFrequency, prometheus.GaugeValue,
				float64(c.Frequency), labels...)
			ch <- prometheus.MustNewConstMetric(e.downPower, prometheus.GaugeValue,
				c.Power, labels...)
			ch <- prometheus.MustNewConstMetric(e.downSNR, prometheus.GaugeValue,
				c.SNR, labels...)
			ch <- prometheus.MustNewConstMetric(e.downLocked, prometheus.GaugeValue,
				lockedValue(c.Locked), labels...)
			ch <- prometheus.MustNewConstMetric(e.downCorrected, prometheus.CounterValue,
				float64(c.Corrected), labels...)
			ch <- prometheus.MustNewConstMetric(e.downUncorrected, prometheus.CounterValue,
				float64(c.Uncorrected), labels...)
		}

		for _, c := range result.Upstream {
			labels := []string{host, strconv.Itoa(c.ChannelID), channelScheme(c)}
			ch <- prometheus.MustNewConstMetric(e.upFrequency, prometheus.GaugeValue,
				float64(c.Frequency), labels...)
			ch <- prometheus.MustNewConstMetric(e.upPower, prometheus.GaugeValue,
				c.Power, labels...)
			ch <- prometheus.MustNewConstMetric(e.upLocked, prometheus.GaugeValue,
				lockedValue(c.Locked), labels...)
			if c.SymbolRate > 0 {
				ch <- prometheus.MustNewConstMetric(e.upSymbolRate, prometheus.GaugeValue,
					float64(c.SymbolRate), labels...)
			}
		}
	}
}

// channelScheme picks the scheme label: the channel type when the
// parser extracted one (SC-QAM, OFDMA), otherwise the modulation.
func channelScheme(c capability.ChannelInfo) string {
	if c.ChannelType != "" {
		return c.ChannelType
	}
	return c.Modulation
}

func lockedValue(locked bool) float64 {
	if locked {
		return 1.0
	}
	return 0.0
}

// Handler returns a scrape endpoint backed by a registry holding only
// this exporter.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled. The listener
// error is returned as-is; a canceled context returns nil after a
// graceful shutdown.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
