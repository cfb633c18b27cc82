// Package e2e runs full-system scenarios: the real HTTP server, the real
// worker pool, and the real detection pipeline over an embedded Redis and
// a capturing Elasticsearch stub. Only the external enrichment APIs and
// the search backend are stubbed.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegis-siem/aegis/pkg/anomaly"
	"github.com/aegis-siem/aegis/pkg/api"
	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/correlation"
	"github.com/aegis-siem/aegis/pkg/enrichment"
	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/normalization"
	"github.com/aegis-siem/aegis/pkg/pipeline"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/response"
	"github.com/aegis-siem/aegis/pkg/rules"
	"github.com/aegis-siem/aegis/pkg/services"
	"github.com/aegis-siem/aegis/pkg/statestore"
	"github.com/aegis-siem/aegis/pkg/storage"
)

// testModelArtifact is a one-stump isolation forest that isolates events
// whose request-frequency feature exceeds 25 per minute. Offset matches
// the training library's default.
const testModelArtifact = `{
	"n_estimators": 1,
	"max_samples": 256,
	"offset": -0.5,
	"trees": [{
		"children_left": [1, -1, -1],
		"children_right": [2, -1, -1],
		"feature": [3, -2, -2],
		"threshold": [25, -2, -2],
		"n_node_samples": [256, 255, 1]
	}]
}`

// docCapture stores every document the pipeline persisted, keyed by write
// alias.
type docCapture struct {
	mu   sync.Mutex
	docs map[string][]map[string]any
}

func (c *docCapture) add(alias string, doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.docs == nil {
		c.docs = make(map[string][]map[string]any)
	}
	c.docs[alias] = append(c.docs[alias], doc)
}

// family returns the captured documents for one alias.
func (c *docCapture) family(alias string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.docs[alias]...)
}

// harnessOptions tune the system under test per scenario.
type harnessOptions struct {
	rateLimit      int
	whitelistCIDRs []string
	withModel      bool
}

// harness is the running system: HTTP server, worker pool, embedded
// Redis, stub event store.
type harness struct {
	t        *testing.T
	baseURL  string
	mr       *miniredis.Miniredis
	store    *statestore.Store
	captured *docCapture
	client   *http.Client
}

// startHarness boots the whole system and tears it down with the test.
func startHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()

	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := statestore.NewWithClient(client)

	q := queue.New(client)
	require.NoError(t, q.EnsureGroup(ctx))

	captured := &docCapture{}
	esStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.HasSuffix(r.URL.Path, "/_doc") {
			alias := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/_doc")
			var doc map[string]any
			if json.Unmarshal(body, &doc) == nil {
				captured.add(alias, doc)
			}
		}
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(esStub.Close)

	es, err := storage.NewClient(esStub.URL)
	require.NoError(t, err)
	index := storage.NewEventIndex(es)

	settings := &config.Settings{
		ProjectName:        "Aegis E2E",
		APIV1Prefix:        "/api/v1",
		RateLimitPerMinute: opts.rateLimit,
	}

	responseCfg := config.DefaultResponseConfig()
	responseCfg.Whitelist.CIDRs = opts.whitelistCIDRs
	require.NoError(t, responseCfg.Validate())

	scorer := anomaly.NewWithForest(nil, store)
	if opts.withModel {
		path := filepath.Join(t.TempDir(), "isoforest.json")
		require.NoError(t, os.WriteFile(path, []byte(testModelArtifact), 0o600))
		scorer = anomaly.New(path, store)
		require.True(t, scorer.Loaded())
	}

	m := metrics.New(prometheus.NewRegistry())
	stages := pipeline.New(
		normalization.New(),
		enrichment.New(settings),
		rules.NewEngine(config.DefaultRulesConfig(), store),
		scorer,
		correlation.New(store),
		response.New(responseCfg, store),
		index,
		m,
	)

	queueCfg := &config.QueueConfig{
		WorkerCount:             1,
		BatchSize:               10,
		BlockTimeout:            50 * time.Millisecond,
		ErrorBackoff:            10 * time.Millisecond,
		ClaimMinIdle:            time.Minute,
		ClaimInterval:           time.Minute,
		MaxDeliveries:           5,
		GracefulShutdownTimeout: 5 * time.Second,
	}
	pool := queue.NewWorkerPool("e2e-pod", q, queueCfg, stages)
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	ingestService := services.NewIngestService(q, store, m, opts.rateLimit)
	dashboardService := services.NewDashboardService(index)
	server := api.NewServer(settings, ingestService, dashboardService, store, index, q)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return &harness{
		t:        t,
		baseURL:  "http://" + ln.Addr().String(),
		mr:       mr,
		store:    store,
		captured: captured,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// postLogs submits one or more events as clientIP and returns the status
// code.
func (h *harness) postLogs(clientIP, body string) int {
	h.t.Helper()
	return h.post(clientIP, "/api/v1/ingest/logs", "application/json", body)
}

// postRaw submits a plain-text line as clientIP.
func (h *harness) postRaw(clientIP, body string) int {
	h.t.Helper()
	return h.post(clientIP, "/api/v1/ingest/raw", "text/plain", body)
}

func (h *harness) post(clientIP, path, contentType, body string) int {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.baseURL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Forwarded-For", clientIP)
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// waitForDocs blocks until the alias holds at least n documents and
// returns them.
func (h *harness) waitForDocs(alias string, n int) []map[string]any {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if docs := h.captured.family(alias); len(docs) >= n {
			return docs
		}
		time.Sleep(20 * time.Millisecond)
	}
	docs := h.captured.family(alias)
	require.GreaterOrEqual(h.t, len(docs), n, "timed out waiting for %d documents in %s", n, alias)
	return docs
}

// settleDocs waits until the log family stops growing, so negative
// assertions run after the pipeline has drained.
func (h *harness) settleDocs(n int) {
	h.t.Helper()
	h.waitForDocs(storage.LogsWriteAlias, n)
	time.Sleep(150 * time.Millisecond)
}

// sshFailedEvent is a failed-login submission for one source IP.
func sshFailedEvent(ip string) string {
	return fmt.Sprintf(`{
		"source": "ssh",
		"ip": %q,
		"event_type": "ssh_login_failed",
		"message": "Failed password for invalid user hacker from %s port 22 ssh2"
	}`, ip, ip)
}

// sshSuccessEvent is an accepted-login submission for one user and IP.
func sshSuccessEvent(user, ip string) string {
	return fmt.Sprintf(`{
		"source": "ssh",
		"user": %q,
		"ip": %q,
		"event_type": "ssh_login_success",
		"message": "Accepted password for %s from %s port 22 ssh2"
	}`, user, ip, user, ip)
}
