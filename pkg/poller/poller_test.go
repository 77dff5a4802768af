package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/health"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

const channelTablePage = `<html><body>
<table>
<tr><td colspan="8"><strong>Downstream Bonded Channels</strong></td></tr>
<tr><td>Channel ID</td><td>Lock Status</td><td>Modulation</td><td>Frequency</td><td>Power</td><td>SNR/MER</td><td>Corrected</td><td>Uncorrectables</td></tr>
<tr><td>1</td><td>Locked</td><td>QAM256</td><td>507000000 Hz</td><td>1.1 dBmV</td><td>39.8 dB</td><td>123</td><td>4</td></tr>
<tr><td>2</td><td>Locked</td><td>QAM256</td><td>513000000 Hz</td><td>1.4 dBmV</td><td>40.1 dB</td><td>98</td><td>0</td></tr>
</table>
<table>
<tr><td colspan="7"><strong>Upstream Bonded Channels</strong></td></tr>
<tr><td>Channel</td><td>Channel ID</td><td>Lock Status</td><td>US Channel Type</td><td>Frequency</td><td>Width</td><td>Power</td></tr>
<tr><td>1</td><td>3</td><td>Locked</td><td>SC-QAM</td><td>30600000 Hz</td><td>6400000</td><td>46.5 dBmV</td></tr>
</table>
</body></html>`

const loginFormPage = `<html><body>
<form action="/goform/Login" method="post">
<input type="text" name="loginUsername">
<input type="password" name="loginPassword">
</form>
</body></html>`

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	client, err := transport.NewClient()
	require.NoError(t, err)
	return New(client, capability.BuiltinRegistry(), opts)
}

// recordingMux wraps a handler and keeps "METHOD /path" for every
// request so tests can count exactly what each cycle fetched.
type recordingMux struct {
	mu       sync.Mutex
	requests []string
	handler  http.Handler
}

func (m *recordingMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.Method+" "+r.URL.Path)
	m.mu.Unlock()
	m.handler.ServeHTTP(w, r)
}

func (m *recordingMux) count(entry string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if req == entry {
			n++
		}
	}
	return n
}

func (m *recordingMux) methodCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if strings.HasPrefix(req, method+" ") {
			n++
		}
	}
	return n
}

func (m *recordingMux) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *recordingMux) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// newSurfboardServer serves an SB8200 lookalike: identifiable landing
// page, no authentication, three data pages.
func newSurfboardServer(t *testing.T) (*recordingMux, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><head><title>SB8200 Status</title></head>
<body><a href="/cmconnectionstatus.html">Connection</a></body></html>`))
	})
	mux.HandleFunc("/cmconnectionstatus.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(channelTablePage))
	})
	mux.HandleFunc("/cmswinfo.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>software</body></html>"))
	})
	mux.HandleFunc("/cmeventlog.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>log</body></html>"))
	})
	recorder := &recordingMux{handler: mux}
	return recorder, httptest.NewServer(recorder)
}

func TestGetModemData_AnonymousHTMLModem(t *testing.T) {
	_, server := newSurfboardServer(t)
	defer server.Close()

	o := newTestOrchestrator(t, Options{Host: server.URL})
	result := o.GetModemData(context.Background())

	require.Equal(t, StatusOK, result.Status, "error: %s step: %s", result.Error, result.FailedStep)
	assert.False(t, result.Degraded())
	assert.Empty(t, result.FailedStep)
	assert.Equal(t, server.URL, result.BaseURL)
	assert.Equal(t, "arris-sb8200", result.CapabilityID)
	assert.Equal(t, "none", result.AuthStrategy)
	assert.NotEmpty(t, result.CycleID)
	assert.False(t, result.FetchedAt.IsZero())
	assert.Greater(t, result.Elapsed, time.Duration(0))

	assert.Len(t, result.Downstream, 2)
	assert.Len(t, result.Upstream, 1)
	assert.Equal(t, Aggregates{
		DownstreamCount:  2,
		UpstreamCount:    1,
		TotalCorrected:   221,
		TotalUncorrected: 4,
	}, result.Aggregates)
}

func TestGetModemData_SessionStateSticksAcrossCycles(t *testing.T) {
	recorder, server := newSurfboardServer(t)
	defer server.Close()

	o := newTestOrchestrator(t, Options{Host: server.URL})
	first := o.GetModemData(context.Background())
	second := o.GetModemData(context.Background())

	require.Equal(t, StatusOK, first.Status, "error: %s", first.Error)
	require.Equal(t, StatusOK, second.Status, "error: %s", second.Error)
	assert.NotEqual(t, first.CycleID, second.CycleID, "every cycle gets its own id")

	assert.Equal(t, 1, recorder.count("HEAD /"), "transport is probed once, then reused")
	assert.Equal(t, 1, recorder.count("GET /"), "the landing page is matched once, then cached")
	assert.Equal(t, 2, recorder.count("GET /cmconnectionstatus.html"), "data pages are fetched every cycle")
}

// cm600Device fakes Netgear form-auth firmware whose first session
// silently expires after two page loads.
type cm600Device struct {
	mu         sync.Mutex
	loginCount int
	validToken string
	livesLeft  int
}

func (d *cm600Device) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/goform/Login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("loginUsername") != "admin" || r.PostForm.Get("loginPassword") != "hunter2" {
			_, _ = w.Write([]byte(loginFormPage))
			return
		}
		d.mu.Lock()
		d.loginCount++
		d.validToken = fmt.Sprintf("sess-%d", d.loginCount)
		if d.loginCount == 1 {
			d.livesLeft = 2
		} else {
			d.livesLeft = 1 << 20
		}
		token := d.validToken
		d.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "SessionID", Value: token, Path: "/"})
		_, _ = w.Write([]byte("<html><body>Welcome to the CM600 dashboard. Status pages are ready.</body></html>"))
	})
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !d.sessionValid(r) {
				_, _ = w.Write([]byte(loginFormPage))
				return
			}
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/DocsisStatus.htm", serve(channelTablePage))
	mux.HandleFunc("/RouterStatus.htm", serve("<html><body>CM600 V1.01.14 system information</body></html>"))
	mux.HandleFunc("/EventLog.htm", serve("<html><body>docsis event log</body></html>"))
	mux.HandleFunc("/Logout.htm", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.validToken = ""
		d.mu.Unlock()
		_, _ = w.Write([]byte("<html><body>logged out</body></html>"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(loginFormPage))
	})
	return mux
}

// sessionValid burns one life per authenticated page load.
func (d *cm600Device) sessionValid(r *http.Request) bool {
	cookie, err := r.Cookie("SessionID")
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.validToken == "" || cookie.Value != d.validToken || d.livesLeft <= 0 {
		return false
	}
	d.livesLeft--
	return true
}

func (d *cm600Device) logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loginCount
}

func TestGetModemData_FormAuthRecoversExpiredSession(t *testing.T) {
	device := &cm600Device{}
	recorder := &recordingMux{handler: device.handler(t)}
	server := httptest.NewServer(recorder)
	defer server.Close()

	o := newTestOrchestrator(t, Options{
		Host:     server.URL,
		Username: "admin",
		Password: "hunter2",
		Model:    modemcfg.BuiltinByID("netgear-cm600"),
	})

	result := o.GetModemData(context.Background())

	require.Equal(t, StatusOK, result.Status, "error: %s step: %s", result.Error, result.FailedStep)
	assert.Equal(t, "netgear-cm600", result.CapabilityID)
	assert.Equal(t, "form", result.AuthStrategy)
	assert.Len(t, result.Downstream, 2)
	assert.Equal(t, 2, device.logins(), "the expired session is recovered with exactly one re-login")
	assert.Equal(t, 2, recorder.count("POST /goform/Login"))
	assert.Equal(t, 1, recorder.count("GET /Logout.htm"), "the session is released after the cycle")

	result = o.GetModemData(context.Background())

	require.Equal(t, StatusOK, result.Status, "error: %s step: %s", result.Error, result.FailedStep)
	assert.Len(t, result.Downstream, 2)
	assert.Equal(t, 3, device.logins(), "the logout forces a fresh login next cycle")
	assert.Equal(t, 2, recorder.count("GET /Logout.htm"))
}

func TestGetModemData_UnreachableDeviceDegrades(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	deadURL := server.URL
	server.Close()

	o := newTestOrchestrator(t, Options{Host: deadURL})
	result := o.GetModemData(context.Background())

	assert.True(t, result.Degraded())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, StepTransport, result.FailedStep)
	assert.NotEmpty(t, result.Error)
	assert.NotEmpty(t, result.CycleID)
	assert.Empty(t, result.BaseURL)
}

func TestGetModemData_ProbeBudgetBoundsUnknownDevice(t *testing.T) {
	recorder := &recordingMux{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Broadband Gateway</title></head><body>status unavailable</body></html>"))
	})}
	server := httptest.NewServer(recorder)
	defer server.Close()

	o := newTestOrchestrator(t, Options{Host: server.URL})
	result := o.GetModemData(context.Background())

	assert.True(t, result.Degraded())
	assert.Equal(t, StepCapability, result.FailedStep)
	assert.Contains(t, result.Error, capability.ErrNotFound.Error())
	assert.Empty(t, result.CapabilityID, "the fallback is never auto-selected")
	assert.Equal(t, DefaultGlobalProbes, recorder.methodCount(http.MethodGet),
		"probing stops when the global budget is spent")

	result = o.GetModemData(context.Background())

	assert.True(t, result.Degraded())
	assert.Equal(t, 2*DefaultGlobalProbes, recorder.methodCount(http.MethodGet),
		"the budget is per cycle, not per device lifetime")
	assert.Equal(t, 1, recorder.methodCount(http.MethodHead),
		"the second cycle reuses the established transport")
}

func TestGetModemData_ExplicitFallbackSelection(t *testing.T) {
	recorder := &recordingMux{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Mystery Box</title></head><body>hello hello hello</body></html>"))
	})}
	server := httptest.NewServer(recorder)
	defer server.Close()

	o := newTestOrchestrator(t, Options{
		Host:               server.URL,
		ExplicitCapability: capability.FallbackID,
	})
	result := o.GetModemData(context.Background())

	require.Equal(t, StatusOK, result.Status, "error: %s step: %s", result.Error, result.FailedStep)
	assert.Equal(t, capability.FallbackID, result.CapabilityID)
	assert.Zero(t, result.Aggregates.DownstreamCount)
	assert.Equal(t, 1, recorder.methodCount(http.MethodGet),
		"no probing happens, only the landing page fetch")
}

func TestGetModemData_FailureRunDropsCachedState(t *testing.T) {
	_, server := newSurfboardServer(t)

	failures := &health.ConsecutiveFailures{}
	o := newTestOrchestrator(t, Options{
		Host:             server.URL,
		FailureThreshold: 2,
		Failures:         failures,
	})

	require.Equal(t, StatusOK, o.GetModemData(context.Background()).Status)
	require.Zero(t, failures.Count())

	server.Close()

	result := o.GetModemData(context.Background())
	assert.Equal(t, StepFetch, result.FailedStep, "cached transport survives the first failure")

	result = o.GetModemData(context.Background())
	assert.Equal(t, StepFetch, result.FailedStep, "threshold crossing drops the caches after this cycle")

	result = o.GetModemData(context.Background())
	assert.Equal(t, StepTransport, result.FailedStep, "after the drop the device is rediscovered from scratch")
	assert.Equal(t, 3, failures.Count())
	assert.Nil(t, o.Snapshot(), "dropped state has nothing worth persisting")
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	recorder, server := newSurfboardServer(t)
	defer server.Close()

	o := newTestOrchestrator(t, Options{Host: server.URL})
	require.Equal(t, StatusOK, o.GetModemData(context.Background()).Status)

	snap := o.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, server.URL, snap.BaseURL)
	assert.Equal(t, "arris-sb8200", snap.CapabilityID)
	assert.Equal(t, "arris-sb8200", snap.ModelID)
	assert.False(t, snap.UsesHTTPS)

	// A fresh orchestrator seeded from the snapshot goes straight to
	// the data pages: no connectivity probe, no landing page match.
	recorder.reset()
	restored := newTestOrchestrator(t, Options{Host: server.URL})
	restored.Restore(snap)
	result := restored.GetModemData(context.Background())

	require.Equal(t, StatusOK, result.Status, "error: %s step: %s", result.Error, result.FailedStep)
	assert.Equal(t, "arris-sb8200", result.CapabilityID)
	assert.Len(t, result.Downstream, 2)
	assert.Zero(t, recorder.count("HEAD /"))
	assert.Zero(t, recorder.count("GET /"))
}

func TestRestore_IgnoresNilAndEmptyState(t *testing.T) {
	o := newTestOrchestrator(t, Options{Host: "http://192.0.2.1"})

	o.Restore(nil)
	assert.Nil(t, o.Snapshot())

	o.Restore(&statestore.DeviceState{Host: "http://192.0.2.1"})
	assert.Nil(t, o.Snapshot(), "state without a base URL carries no transport")
}

func TestSnapshot_NilBeforeFirstContact(t *testing.T) {
	o := newTestOrchestrator(t, Options{Host: "http://192.0.2.1"})
	assert.Nil(t, o.Snapshot())
}
