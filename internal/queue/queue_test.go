package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazka/pricewatch/internal/model"
)

func newTestCoordinator() *Coordinator {
	c := NewCoordinator(nil, nil)
	c.SetPollInterval(5 * time.Millisecond)
	return c
}

func TestRequestTaskEmptyQueue(t *testing.T) {
	c := newTestCoordinator()

	task := c.RequestTask(10)

	assert.NotNil(t, task.SKUs)
	assert.Empty(t, task.SKUs)
}

func TestRequestTaskBoundedBatch(t *testing.T) {
	c := newTestCoordinator()

	go func() {
		_, _ = c.EnqueueAndAwait(context.Background(), []string{"a", "b", "c", "d", "e"}, 200*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return c.Pending() == 5 }, time.Second, time.Millisecond)

	first := c.RequestTask(2)
	second := c.RequestTask(2)
	third := c.RequestTask(2)

	assert.Equal(t, []string{"a", "b"}, first.SKUs)
	assert.Equal(t, []string{"c", "d"}, second.SKUs)
	assert.Equal(t, []string{"e"}, third.SKUs)
	assert.Equal(t, 0, c.Pending())
}

func TestEnqueueAndAwaitEmptyInput(t *testing.T) {
	c := newTestCoordinator()

	results, err := c.EnqueueAndAwait(context.Background(), []string{" ", ""}, time.Second)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEnqueueAndAwaitFullFlow(t *testing.T) {
	c := newTestCoordinator()
	skus := []string{"100", "200", "300"}

	// worker side: pull the task and push results back
	go func() {
		var task Task
		for len(task.SKUs) == 0 {
			time.Sleep(time.Millisecond)
			task = c.RequestTask(20)
		}
		_ = c.SubmitResults(task.ID, []model.Outcome{
			model.OK("100", "1 000 ₽", "exact_regex"),
			model.NotFound("200", "api"),
			model.BlockedAfterRetry("300", "api"),
		})
	}()

	results, err := c.EnqueueAndAwait(context.Background(), skus, 2*time.Second)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "100", results[0].SKU)
	assert.True(t, results[0].Success)
	assert.Equal(t, model.StatusNotFound, results[1].Status)
	assert.Equal(t, model.StatusBlockedAfterRetry, results[2].Status)
}

func TestEnqueueAndAwaitPartialOnTimeout(t *testing.T) {
	c := newTestCoordinator()

	go func() {
		var task Task
		for len(task.SKUs) == 0 {
			time.Sleep(time.Millisecond)
			task = c.RequestTask(20)
		}
		// deliver only one of two targets
		_ = c.SubmitResults(task.ID, []model.Outcome{
			model.OK("1", "500 ₽", "exact_regex"),
		})
	}()

	results, err := c.EnqueueAndAwait(context.Background(), []string{"1", "2"}, 100*time.Millisecond)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].SKU)
}

func TestEnqueueAndAwaitTimeoutNoWorker(t *testing.T) {
	c := newTestCoordinator()

	results, err := c.EnqueueAndAwait(context.Background(), []string{"1"}, 50*time.Millisecond)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEnqueueAndAwaitDiscardsStaleSink(t *testing.T) {
	c := newTestCoordinator()

	// abandoned batch: worker answers after the caller timed out
	_, err := c.EnqueueAndAwait(context.Background(), []string{"1"}, 30*time.Millisecond)
	require.NoError(t, err)
	stale := c.RequestTask(20)
	_ = c.SubmitResults(stale.ID, []model.Outcome{model.OK("1", "1 ₽", "exact_regex")})

	// the next batch for the same SKU must not see the stale outcome
	go func() {
		var task Task
		for len(task.SKUs) == 0 {
			time.Sleep(time.Millisecond)
			task = c.RequestTask(20)
		}
		_ = c.SubmitResults(task.ID, []model.Outcome{model.OK("1", "2 ₽", "exact_regex")})
	}()

	results, err := c.EnqueueAndAwait(context.Background(), []string{"1"}, 2*time.Second)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2 ₽", results[0].Price)
}

func TestEnqueueAndAwaitConcurrentCallSupersedes(t *testing.T) {
	c := newTestCoordinator()

	firstDone := make(chan []model.Outcome, 1)
	go func() {
		results, _ := c.EnqueueAndAwait(context.Background(), []string{"old"}, 150*time.Millisecond)
		firstDone <- results
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	// worker only ever sees the superseding batch's target once it lands
	go func() {
		for {
			task := c.RequestTask(20)
			for _, sku := range task.SKUs {
				if sku == "new" {
					_ = c.SubmitResults(task.ID, []model.Outcome{model.OK("new", "1 ₽", "exact_regex")})
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	results, err := c.EnqueueAndAwait(context.Background(), []string{"new"}, 2*time.Second)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].SKU)

	// the superseded caller returns cleanly and empty, never the new batch's data
	assert.Empty(t, <-firstDone)
}

func TestSubmitResultsDuplicateTargets(t *testing.T) {
	c := newTestCoordinator()

	go func() {
		var task Task
		for len(task.SKUs) == 0 {
			time.Sleep(time.Millisecond)
			task = c.RequestTask(20)
		}
		// double submission keeps the first outcome per target
		_ = c.SubmitResults(task.ID, []model.Outcome{model.OK("1", "1 ₽", "exact_regex")})
		_ = c.SubmitResults(task.ID, []model.Outcome{model.OK("1", "9 ₽", "exact_regex")})
	}()

	results, err := c.EnqueueAndAwait(context.Background(), []string{"1"}, 2*time.Second)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1 ₽", results[0].Price)
}

func TestConcurrentPullsDoNotDuplicateTargets(t *testing.T) {
	c := newTestCoordinator()

	go func() {
		_, _ = c.EnqueueAndAwait(context.Background(), []string{"a", "b", "c", "d"}, 200*time.Millisecond)
	}()
	require.Eventually(t, func() bool { return c.Pending() == 4 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := c.RequestTask(1)
			mu.Lock()
			for _, sku := range task.SKUs {
				seen[sku]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, 4)
	for sku, n := range seen {
		assert.Equal(t, 1, n, "target %s pulled more than once", sku)
	}
}

func TestSubmitResultsAfterClose(t *testing.T) {
	c := newTestCoordinator()
	c.Close()

	err := c.SubmitResults("", []model.Outcome{model.OK("1", "1 ₽", "exact_regex")})

	assert.ErrorIs(t, err, ErrClosed)
}

func TestResultHooksObserveSubmissions(t *testing.T) {
	c := newTestCoordinator()

	var mu sync.Mutex
	var got []model.Outcome
	c.OnResults(func(taskID string, results []model.Outcome) {
		mu.Lock()
		got = append(got, results...)
		mu.Unlock()
	})

	require.NoError(t, c.SubmitResults("t1", []model.Outcome{model.OK("1", "1 ₽", "exact_regex")}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].SKU)
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"keeps first occurrence order", []string{"b", "a", "b", "a"}, []string{"b", "a"}},
		{"trims and drops blanks", []string{" 1 ", "", "  ", "1"}, []string{"1"}},
		{"nil input", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Dedupe(tt.input))
		})
	}
}
