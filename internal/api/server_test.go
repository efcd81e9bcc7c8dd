package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/batch"
	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/dedup"
	"github.com/relayq/relayq/internal/ledger"
	"github.com/relayq/relayq/internal/manager"
	"github.com/relayq/relayq/internal/queue/memory"
	"github.com/relayq/relayq/internal/relay"
)

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *manager.Manager, *ledger.Store) {
	t.Helper()
	store, err := ledger.New(t.TempDir())
	require.NoError(t, err)
	mgr := manager.New(
		store,
		memory.NewQueue(),
		dedup.New(nil, store, zap.NewNop()),
		batch.NewTracker(&seqIDGen{}),
		&seqIDGen{},
		manager.Config{},
		zap.NewNop(),
	)
	srv := httptest.NewServer(NewServer(mgr, cfg, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, mgr, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, config.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitAccepted(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{
		"text":      "https://t.me/c/100/5",
		"submitter": "alice",
		"chat_id":   1,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, string(relay.SubmissionAccepted), body["disposition"])

	queued, err := store.ReadAll(relay.PartitionQueued)
	require.NoError(t, err)
	require.Equal(t, []string{"https://t.me/c/100/5"}, queued)
}

func TestSubmitDuplicateConflict(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})
	require.NoError(t, store.Append(relay.PartitionDone, "https://t.me/c/100/5"))

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{
		"text": "https://t.me/c/100/5",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, string(relay.SubmissionDuplicate), body["disposition"])
	require.Equal(t, string(relay.PartitionDone), body["partition"])
}

func TestSubmitEmptyBadRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, config.Config{})

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{"text": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(srv.URL+"/v1/submissions", "application/json", bytes.NewReader([]byte("{bad")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitBatch(t *testing.T) {
	srv, _, _ := newTestServer(t, config.Config{})

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{
		"text": "https://t.me/c/100/5 - https://t.me/c/100/7",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, string(relay.SubmissionBatch), body["disposition"])
	require.Equal(t, float64(3), body["queued"])
	require.NotEmpty(t, body["batch_id"])
}

func TestStatusAndQueueListing(t *testing.T) {
	srv, mgr, _ := newTestServer(t, config.Config{})

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{
		"text":      "https://t.me/c/100/1\nhttps://t.me/c/100/2",
		"submitter": "bob",
	})
	resp.Body.Close()

	mgr.SetCurrent(relay.Job{ID: "https://t.me/c/100/0"})
	mgr.SetProgress(relay.Progress{Percent: 12.5})

	stResp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	st := decode[statusResponse](t, stResp)
	require.NotNil(t, st.Current)
	require.Equal(t, "https://t.me/c/100/0", st.Current.ID)
	require.NotNil(t, st.Progress)
	require.Equal(t, 12.5, st.Progress.Percent)
	require.Equal(t, 2, st.QueueDepth)

	listResp, err := http.Get(srv.URL + "/v1/queue/?page=1&per_page=1")
	require.NoError(t, err)
	list := decode[listResponse](t, listResp)
	require.Equal(t, 2, list.Total)
	items, ok := list.Items.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
}

func TestRemoveAndClearQueue(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})

	resp := postJSON(t, srv.URL+"/v1/submissions", map[string]any{
		"text": "https://t.me/c/100/1\nhttps://t.me/c/100/2",
	})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/queue/remove", map[string]any{"id": "https://t.me/c/100/1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/queue/remove", map[string]any{"id": "https://t.me/c/100/1"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/queue/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decode[map[string]int](t, resp)
	require.Equal(t, 1, cleared["cleared"])

	queued, err := store.ReadAll(relay.PartitionQueued)
	require.NoError(t, err)
	require.Empty(t, queued)
}

func TestDoneListingAndAdmin(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})
	require.NoError(t, store.Append(relay.PartitionDone, "https://t.me/c/100/1"))
	require.NoError(t, store.Append(relay.PartitionDone, "https://t.me/c/100/2"))

	resp, err := http.Get(srv.URL + "/v1/done/")
	require.NoError(t, err)
	list := decode[listResponse](t, resp)
	require.Equal(t, 2, list.Total)
	items := list.Items.([]any)
	require.Equal(t, "https://t.me/c/100/2", items[0])

	resp = postJSON(t, srv.URL+"/v1/done/forget", map[string]any{"id": "https://t.me/c/100/1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/done/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decode[map[string]int](t, resp)
	require.Equal(t, 1, cleared["cleared"])
}

func TestFailedListingAndClear(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})
	require.NoError(t, store.WriteAll(relay.PartitionInFlight, []string{"https://t.me/c/100/1"}))
	require.NoError(t, store.Fail("https://t.me/c/100/1", "invalid", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	resp, err := http.Get(srv.URL + "/v1/failed/")
	require.NoError(t, err)
	list := decode[listResponse](t, resp)
	require.Equal(t, 1, list.Total)

	resp = postJSON(t, srv.URL+"/v1/failed/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decode[map[string]int](t, resp)
	require.Equal(t, 1, cleared["cleared"])
}

func TestPaginationFallsBackOnBadInput(t *testing.T) {
	srv, _, store := newTestServer(t, config.Config{})
	require.NoError(t, store.Append(relay.PartitionDone, "https://t.me/c/100/1"))

	for _, query := range []string{
		"page=-3",
		"page=abc",
		"page=9999999999999999999999999", // larger than any int
		"per_page=0",
	} {
		resp, err := http.Get(srv.URL + "/v1/done/?" + query)
		require.NoError(t, err)
		list := decode[listResponse](t, resp)
		require.Equal(t, 1, list.Page, query)
		require.Equal(t, 1, list.Total, query)
		require.Len(t, list.Items.([]any), 1, query)
	}
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	srv, _, _ := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
