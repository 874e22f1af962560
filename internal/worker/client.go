// Package worker runs the scraping side of the work-queue protocol: poll the
// coordinator for SKU batches, resolve them through the browser runner, push
// the outcomes back.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/queue"
)

const pushAttempts = 3

// Client talks to the coordinator's parser endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "worker_client"),
	}
}

// GetTask pulls the next batch. An empty SKU list means the queue is idle.
func (c *Client) GetTask(ctx context.Context) (queue.Task, error) {
	var task queue.Task

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pricecheck/api/parser/task", nil)
	if err != nil {
		return task, fmt.Errorf("build task request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return task, fmt.Errorf("fetch task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return task, fmt.Errorf("task endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return task, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

// PushResults submits the outcome batch, retrying transient failures so one
// dropped connection does not lose a batch that took minutes to scrape.
func (c *Client) PushResults(ctx context.Context, taskID string, results []model.Outcome) error {
	if len(results) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"task_id": taskID,
		"results": results,
	})
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/pricecheck/api/parser/results", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build results request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("push results: %w", err)
			c.logger.Warn("result push failed, will retry", "attempt", attempt+1, "error", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("results endpoint returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
		c.logger.Warn("result push rejected, will retry", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return lastErr
}
