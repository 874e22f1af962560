package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/queue"
)

type coordinatorStub struct {
	mu       sync.Mutex
	task     queue.Task
	received []model.Outcome
	failures int
}

func (s *coordinatorStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pricecheck/api/parser/task", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		task := s.task
		s.task = queue.Task{SKUs: []string{}}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(task)
	})
	mux.HandleFunc("POST /pricecheck/api/parser/results", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failures > 0 {
			s.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req struct {
			TaskID  string          `json:"task_id"`
			Results []model.Outcome `json:"results"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.received = append(s.received, req.Results...)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	return mux
}

func TestClientGetTask(t *testing.T) {
	stub := &coordinatorStub{task: queue.Task{ID: "t1", SKUs: []string{"1", "2"}}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	task, err := c.GetTask(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, []string{"1", "2"}, task.SKUs)

	// queue drained on the second poll
	task, err = c.GetTask(context.Background())
	require.NoError(t, err)
	assert.Empty(t, task.SKUs)
}

func TestClientPushResultsRetriesTransientFailure(t *testing.T) {
	stub := &coordinatorStub{failures: 1}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.PushResults(context.Background(), "t1",
		[]model.Outcome{model.OK("1", "100 ₽", "exact_regex")})

	require.NoError(t, err)
	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.received, 1)
	assert.Equal(t, "1", stub.received[0].SKU)
}

func TestClientPushResultsEmptyBatch(t *testing.T) {
	c := NewClient("http://coordinator.invalid", nil)

	// nothing to deliver, nothing to send
	assert.NoError(t, c.PushResults(context.Background(), "t1", nil))
}

type stubRunner struct {
	mu   sync.Mutex
	runs [][]string
}

func (r *stubRunner) Run(ctx context.Context, skus []string) []model.Outcome {
	r.mu.Lock()
	r.runs = append(r.runs, skus)
	r.mu.Unlock()
	out := make([]model.Outcome, 0, len(skus))
	for _, sku := range skus {
		out = append(out, model.OK(sku, "1 ₽", "exact_regex"))
	}
	return out
}

func TestLoopProcessesTask(t *testing.T) {
	stub := &coordinatorStub{task: queue.Task{ID: "t1", SKUs: []string{"a", "b"}}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	runner := &stubRunner{}
	loop := NewLoop(ClientSource{Client: NewClient(srv.URL, nil)}, runner, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.received) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs, 1)
	assert.Equal(t, []string{"a", "b"}, runner.runs[0])
}
