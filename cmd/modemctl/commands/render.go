package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/discovery"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/health"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
)

// renderPollResult prints one good poll cycle: channel tables, system
// info, and the aggregate line.
func renderPollResult(out output.Output, result poller.PollResult) {
	out.Info(fmt.Sprintf("%s identified as %s (auth %s), polled in %s",
		result.Host, result.CapabilityID, result.AuthStrategy, result.Elapsed.Round(time.Millisecond)))

	if len(result.Downstream) > 0 {
		out.Table(
			[]string{"ID", "Lock", "Scheme", "Freq (MHz)", "Power (dBmV)", "SNR (dB)", "Corrected", "Uncorrected"},
			downstreamRows(result.Downstream),
		)
	}
	if len(result.Upstream) > 0 {
		out.Table(
			[]string{"ID", "Lock", "Scheme", "Freq (MHz)", "Power (dBmV)", "Symbol Rate"},
			upstreamRows(result.Upstream),
		)
	}
	if len(result.SystemInfo) > 0 {
		out.Table([]string{"Field", "Value"}, systemInfoRows(result.SystemInfo))
	}

	out.Info(fmt.Sprintf("%d downstream / %d upstream channels, %d corrected, %d uncorrected codewords",
		result.Aggregates.DownstreamCount, result.Aggregates.UpstreamCount,
		result.Aggregates.TotalCorrected, result.Aggregates.TotalUncorrected))
}

func downstreamRows(channels []capability.ChannelInfo) [][]string {
	rows := make([][]string, 0, len(channels))
	for _, c := range channels {
		rows = append(rows, []string{
			strconv.Itoa(c.ChannelID),
			lockCell(c.Locked),
			channelScheme(c),
			fmt.Sprintf("%.1f", float64(c.Frequency)/1e6),
			fmt.Sprintf("%.1f", c.Power),
			fmt.Sprintf("%.1f", c.SNR),
			strconv.FormatInt(c.Corrected, 10),
			strconv.FormatInt(c.Uncorrected, 10),
		})
	}
	return rows
}

func upstreamRows(channels []capability.ChannelInfo) [][]string {
	rows := make([][]string, 0, len(channels))
	for _, c := range channels {
		symbolRate := "-"
		if c.SymbolRate > 0 {
			symbolRate = fmt.Sprintf("%d kSym/s", c.SymbolRate)
		}
		rows = append(rows, []string{
			strconv.Itoa(c.ChannelID),
			lockCell(c.Locked),
			channelScheme(c),
			fmt.Sprintf("%.1f", float64(c.Frequency)/1e6),
			fmt.Sprintf("%.1f", c.Power),
			symbolRate,
		})
	}
	return rows
}

func systemInfoRows(info map[string]string) [][]string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, info[k]})
	}
	return rows
}

// channelScheme prefers the DOCSIS channel type over the raw modulation
// name, matching how firmware pages label channels.
func channelScheme(c capability.ChannelInfo) string {
	if c.ChannelType != "" {
		return c.ChannelType
	}
	return c.Modulation
}

func lockCell(locked bool) string {
	if locked {
		return "Locked"
	}
	return "Not locked"
}

// renderDiscoveryReport prints what the pipeline learned about the
// device.
func renderDiscoveryReport(out output.Output, report discovery.Report) {
	rows := [][]string{
		{"Base URL", report.Transport.BaseURL},
		{"HTTPS", yesNo(report.Transport.UsesHTTPS)},
		{"Legacy TLS", yesNo(report.Transport.LegacyTLS)},
		{"Auth strategy", string(report.Auth.Strategy)},
		{"Capability", fmt.Sprintf("%s (%s, confidence %.2f)", report.Binding.CapabilityID, report.Binding.Method, report.Binding.Confidence)},
		{"Model document", report.ModelID},
	}
	if report.Validation.Attempted {
		rows = append(rows, []string{
			"Validation",
			fmt.Sprintf("%d resources: %d downstream, %d upstream, %d system fields",
				report.Validation.Resources, report.Validation.Downstream,
				report.Validation.Upstream, report.Validation.SystemInfo),
		})
	}
	out.Table([]string{"Property", "Value"}, rows)
}

// renderHealthReport prints the layered reachability verdict.
func renderHealthReport(out output.Output, report health.Report) {
	out.Table([]string{"Check", "Result"}, [][]string{
		{"Status", string(report.Status)},
		{"Diagnosis", report.Diagnosis},
		{"Ping", layerCell(report.PingSuccess, report.PingLatency)},
		{"Web UI", layerCell(report.HTTPSuccess, report.HTTPLatency)},
	})
}

func layerCell(success bool, latency time.Duration) string {
	if success {
		return fmt.Sprintf("ok (%s)", latency.Round(time.Millisecond))
	}
	return "failed"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
