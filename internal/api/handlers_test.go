package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazka/pricewatch/internal/cache"
	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/proxy"
	"github.com/smazka/pricewatch/internal/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Coordinator, *cache.PriceCache) {
	t.Helper()

	coord := queue.NewCoordinator(nil, nil)
	coord.SetPollInterval(5 * time.Millisecond)
	priceCache := cache.New(16, time.Minute)
	proxyClient := proxy.NewClient(proxy.Settings{}, time.Second, nil)

	h := NewHandlers(coord, proxyClient, priceCache, 20, 300*time.Millisecond, nil)
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, coord, priceCache
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestGetTaskEmptyQueue(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/pricecheck/api/parser/task")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task queue.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Empty(t, task.SKUs)
}

func TestSubmitResultsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/pricecheck/api/parser/results",
		"application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitResultsEmptyBatch(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/parser/results", map[string]any{
		"task_id": "t1",
		"results": []model.Outcome{},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitResultsAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/parser/results", map[string]any{
		"task_id": "t1",
		"results": []model.Outcome{model.OK("1", "100 ₽", "exact_regex")},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Success  bool `json:"success"`
		Accepted int  `json:"accepted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Accepted)
}

func TestParsePricesEmptyInput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/parse-prices", map[string]any{
		"skus": []string{"", "  "},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParsePricesFullCycle(t *testing.T) {
	srv, coord, _ := newTestServer(t)

	// simulated worker: poll, resolve, push back
	go func() {
		for {
			task := coord.RequestTask(20)
			if len(task.SKUs) == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			results := make([]model.Outcome, 0, len(task.SKUs))
			for _, sku := range task.SKUs {
				results = append(results, model.OK(sku, "1 000 ₽", "exact_regex"))
			}
			_ = coord.SubmitResults(task.ID, results)
			return
		}
	}()

	resp := postJSON(t, srv.URL+"/pricecheck/api/parse-prices", map[string]any{
		"skus": []string{"100", "200", "100"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body ParsePricesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Results, 2)
	assert.Equal(t, 2, body.Summary.Total)
	assert.Equal(t, 2, body.Summary.Successful)
	assert.Equal(t, 2, body.Summary.Expected)
}

func TestParsePricesTimeoutWithoutWorker(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/parse-prices", map[string]any{
		"skus": []string{"9999"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body ParsePricesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Empty(t, body.Results)
	assert.Equal(t, 1, body.Summary.Expected)
}

func TestParsePricesServesFromCache(t *testing.T) {
	srv, _, priceCache := newTestServer(t)
	priceCache.Put([]model.Outcome{model.OK("55", "2 000 ₽", "exact_regex")})

	started := time.Now()
	resp := postJSON(t, srv.URL+"/pricecheck/api/parse-prices", map[string]any{
		"skus": []string{"55"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	// cache hit must not wait out the queue timeout
	assert.Less(t, time.Since(started), 200*time.Millisecond)

	var body ParsePricesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "2 000 ₽", body.Results[0].Price)
	assert.Equal(t, "cache", body.Results[0].Source)
}

func TestProxyViewMasksCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/proxy", map[string]any{
		"enabled":  true,
		"host":     "203.0.113.10",
		"port":     "8000",
		"username": "user",
		"password": "secret",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/pricecheck/api/proxy")
	require.NoError(t, err)
	defer getResp.Body.Close()

	var view proxy.View
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&view))
	assert.True(t, view.Enabled)
	assert.Equal(t, "203.0.113.10:8000", view.Proxy)
	assert.True(t, view.HasAuth)
}

func TestProxyUpdateRequiresHostAndPort(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/proxy", map[string]any{
		"enabled": true,
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRotateWithoutEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/pricecheck/api/proxy/rotate", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/pricecheck/api/parser/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "pending")
	assert.Contains(t, body, "proxy")
}
