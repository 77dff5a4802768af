package loader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/hnap"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newTestClient(t *testing.T) *transport.Client {
	t.Helper()
	client, err := transport.NewClient()
	require.NoError(t, err)
	return client
}

func TestForModel_SelectsByParadigm(t *testing.T) {
	client := newTestClient(t)

	htmlModel := &modemcfg.Model{
		Paradigm: modemcfg.ParadigmHTML,
		Pages:    modemcfg.Pages{Data: map[string]string{"status": "/status.html"}},
	}
	l, err := ForModel(htmlModel, client, "http://192.168.100.1", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTMLLoader{}, l)

	restModel := &modemcfg.Model{
		Paradigm: modemcfg.ParadigmREST,
		Pages:    modemcfg.Pages{Data: map[string]string{"downstream": "/rest/v1/cablemodem/downstream"}},
	}
	l, err = ForModel(restModel, client, "http://192.168.100.1", nil)
	require.NoError(t, err)
	assert.IsType(t, &RESTLoader{}, l)

	hnapModel := &modemcfg.Model{
		Paradigm: modemcfg.ParadigmHNAP,
		Pages:    modemcfg.Pages{HNAPActions: []string{"GetMotoStatusSoftware"}},
	}
	_, err = ForModel(hnapModel, client, "http://192.168.100.1", nil)
	assert.Error(t, err, "hnap selection requires a signer")

	signer := hnap.NewSigner(client, "http://192.168.100.1", hnap.Options{})
	l, err = ForModel(hnapModel, client, "http://192.168.100.1", signer)
	require.NoError(t, err)
	assert.IsType(t, &HNAPLoader{}, l)

	_, err = ForModel(&modemcfg.Model{Paradigm: "gopher"}, client, "http://192.168.100.1", nil)
	assert.Error(t, err)
}

func TestHTMLLoader_FetchesDeclaredPages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cmSignalData.htm":
			io.WriteString(w, "signal tables")
		case "/cmAddressData.htm":
			io.WriteString(w, "address data")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	l := NewHTMLLoader(newTestClient(t), ts.URL, map[string]string{
		"signal":  "/cmSignalData.htm",
		"address": "/cmAddressData.htm",
	}, nil)

	resources, err := l.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "signal tables", string(resources["signal"]))
	assert.Equal(t, "address data", string(resources["address"]))
}

func TestHTMLLoader_AppendsTokenLiveFromJar(t *testing.T) {
	var queries []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		io.WriteString(w, "data page")
	}))
	defer ts.Close()

	client := newTestClient(t)
	token := &modemcfg.URLTokenAuth{
		DataPage:    "/cmconnectionstatus.html",
		LoginPrefix: "login_",
		TokenCookie: "credential",
		TokenPrefix: "ct_",
	}
	l := NewHTMLLoader(client, ts.URL, map[string]string{
		"connection": "/cmconnectionstatus.html",
	}, token)

	// No cookie yet: nothing is appended.
	_, err := l.Fetch(context.Background())
	require.NoError(t, err)

	// The token is read at fetch time, so a re-login mid-lifecycle is
	// picked up without rebuilding the loader.
	client.SetSessionCookie(ts.URL, "credential", "tok-one")
	_, err = l.Fetch(context.Background())
	require.NoError(t, err)

	client.SetSessionCookie(ts.URL, "credential", "tok-two")
	_, err = l.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, queries, 3)
	assert.Equal(t, "", queries[0])
	assert.Equal(t, "ct_tok-one", queries[1])
	assert.Equal(t, "ct_tok-two", queries[2])
}

func TestHTMLLoader_SkipsHNAPPaths(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	l := NewHTMLLoader(newTestClient(t), ts.URL, map[string]string{
		"status": "/status.html",
		"bogus":  "/HNAP1/",
	}, nil)

	resources, err := l.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, resources, 1)
	assert.Contains(t, resources, "status")
	assert.Equal(t, []string{"/status.html"}, paths)

	onlyHNAP := NewHTMLLoader(newTestClient(t), ts.URL, map[string]string{
		"bogus": "/hnap1/",
	}, nil)
	_, err = onlyHNAP.Fetch(context.Background())
	assert.Error(t, err)
}

func TestHTMLLoader_AllPagesFailing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	l := NewHTMLLoader(newTestClient(t), ts.URL, map[string]string{
		"status": "/status.html",
	}, nil)
	_, err := l.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestRESTLoader_CacheBustsAPIPaths(t *testing.T) {
	type seen struct {
		query string
		xhr   string
	}
	requests := map[string]seen{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests[r.URL.Path] = seen{
			query: r.URL.RawQuery,
			xhr:   r.Header.Get("X-Requested-With"),
		}
		io.WriteString(w, `{"ok": true}`)
	}))
	defer ts.Close()

	l := NewRESTLoader(newTestClient(t), ts.URL, modemcfg.Pages{
		Data: map[string]string{
			"status": "/api/v1/status",
			"plain":  "/rest/v1/cablemodem/state",
		},
	})
	l.now = func() time.Time { return time.UnixMilli(1700000000123) }

	_, err := l.Fetch(context.Background())
	require.NoError(t, err)

	api := requests["/api/v1/status"]
	assert.Equal(t, "_=1700000000123", api.query)
	assert.Equal(t, "XMLHttpRequest", api.xhr)

	plain := requests["/rest/v1/cablemodem/state"]
	assert.Empty(t, plain.query)
	assert.Empty(t, plain.xhr)
}

func TestRESTLoader_MergesDeclaredSet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/cablemodem/downstream":
			io.WriteString(w, `{"downstream": {"channels": [{"channelId": 1}]}}`)
		case "/rest/v1/cablemodem/upstream":
			io.WriteString(w, `{"upstream": {"channels": [{"channelId": 4}]}}`)
		case "/rest/v1/cablemodem/state":
			io.WriteString(w, `{"state": {"status": "OPERATIONAL"}}`)
		case "/rest/v1/cablemodem/eventlog":
			io.WriteString(w, `{"eventlog": []}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	l := NewRESTLoader(newTestClient(t), ts.URL, modemcfg.Pages{
		Data: map[string]string{
			"downstream": "/rest/v1/cablemodem/downstream",
			"upstream":   "/rest/v1/cablemodem/upstream",
			"state":      "/rest/v1/cablemodem/state",
			"eventlog":   "/rest/v1/cablemodem/eventlog",
		},
		Merge:    []string{"downstream", "upstream", "state"},
		MergeKey: "cablemodem",
	})

	resources, err := l.Fetch(context.Background())
	require.NoError(t, err)
	require.Contains(t, resources, "cablemodem")
	require.Contains(t, resources, "eventlog")
	assert.NotContains(t, resources, "downstream")
	assert.NotContains(t, resources, "upstream")

	var merged map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resources["cablemodem"], &merged))
	assert.Contains(t, merged, "downstream")
	assert.Contains(t, merged, "upstream")
	assert.Contains(t, merged, "state")
}

func TestRESTLoader_UnmergeableResourceStaysStandalone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			io.WriteString(w, `{"downstream": {}}`)
		case "/broken":
			io.WriteString(w, "<html>firmware error page</html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	l := NewRESTLoader(newTestClient(t), ts.URL, modemcfg.Pages{
		Data: map[string]string{
			"downstream": "/down",
			"broken":     "/broken",
		},
		Merge:    []string{"downstream", "broken"},
		MergeKey: "cablemodem",
	})

	resources, err := l.Fetch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, resources, "cablemodem")
	assert.Contains(t, resources, "broken")
	assert.NotContains(t, resources, "downstream")
}

func TestHNAPLoader_BatchesAndFansOut(t *testing.T) {
	batches := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/HNAP1/", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var envelope map[string]map[string]any
		require.NoError(t, json.Unmarshal(body, &envelope))
		batch, ok := envelope["GetMultipleHNAPs"]
		require.True(t, ok, "expected one batched call, got %s", body)
		batches++

		reply := map[string]any{"GetMultipleHNAPsResult": "OK"}
		for action := range batch {
			reply[action+"Response"] = map[string]string{"payload": "for-" + action}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"GetMultipleHNAPsResponse": reply})
	}))
	defer ts.Close()

	client := newTestClient(t)
	signer := hnap.NewSigner(client, ts.URL, hnap.Options{})
	l := NewHNAPLoader(signer, []string{"GetMotoStatusSoftware", "GetMotoStatusConnectionInfo"})

	resources, err := l.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batches)
	require.Len(t, resources, 2)

	var software map[string]string
	require.NoError(t, json.Unmarshal(resources["GetMotoStatusSoftware"], &software))
	assert.Equal(t, "for-GetMotoStatusSoftware", software["payload"])

	assert.Same(t, signer, l.Signer())
}

func TestHNAPLoader_NoActions(t *testing.T) {
	signer := hnap.NewSigner(newTestClient(t), "http://192.168.100.1", hnap.Options{})
	_, err := NewHNAPLoader(signer, nil).Fetch(context.Background())
	assert.Error(t, err)
}
