package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smazka/pricewatch/internal/cache"
	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/proxy"
	"github.com/smazka/pricewatch/internal/queue"
)

// Handlers exposes the work-queue protocol, the synchronous scrape entry
// point and the proxy control surface.
type Handlers struct {
	coord       *queue.Coordinator
	proxy       *proxy.Client
	cache       *cache.PriceCache
	taskBatch   int
	waitTimeout time.Duration
	logger      *slog.Logger

	// Mode is the scrape mode advertised on the status endpoint.
	Mode string
}

func NewHandlers(coord *queue.Coordinator, proxyClient *proxy.Client, priceCache *cache.PriceCache, taskBatch int, waitTimeout time.Duration, logger *slog.Logger) *Handlers {
	if taskBatch < 1 {
		taskBatch = 20
	}
	if waitTimeout <= 0 {
		waitTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		coord:       coord,
		proxy:       proxyClient,
		cache:       priceCache,
		taskBatch:   taskBatch,
		waitTimeout: waitTimeout,
		logger:      logger.With("component", "api"),
	}
}

// Routes mounts every parser endpoint under the given router.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/pricecheck/api", func(r chi.Router) {
		r.Get("/parser/task", h.GetTask)
		r.Post("/parser/results", h.SubmitResults)
		r.Get("/parser/status", h.GetStatus)
		r.Post("/parse-prices", h.ParsePrices)
		r.Get("/proxy", h.GetProxy)
		r.Post("/proxy", h.UpdateProxy)
		r.Post("/proxy/rotate", h.RotateProxy)
		r.Get("/proxy/test", h.TestProxy)
	})
}

// GetTask hands a bounded batch of pending SKUs to a polling worker.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task := h.coord.RequestTask(h.taskBatch)
	h.respondJSON(w, http.StatusOK, task)
}

// SubmitResultsRequest is the worker's result push payload.
type SubmitResultsRequest struct {
	TaskID  string          `json:"task_id"`
	Results []model.Outcome `json:"results"`
}

// SubmitResults ingests a worker's outcome batch.
func (h *Handlers) SubmitResults(w http.ResponseWriter, r *http.Request) {
	var req SubmitResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Results) == 0 {
		h.respondError(w, http.StatusBadRequest, "results are required")
		return
	}
	for _, res := range req.Results {
		if res.SKU == "" {
			h.respondError(w, http.StatusBadRequest, "every result needs a sku")
			return
		}
	}

	if err := h.coord.SubmitResults(req.TaskID, req.Results); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"accepted": len(req.Results),
	})
}

// GetStatus reports queue depth and the active proxy identity.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"pending":    h.coord.Pending(),
		"cache_size": h.cache.Len(),
	}
	if h.Mode != "" {
		status["mode"] = h.Mode
	}
	if h.proxy != nil {
		status["proxy"] = h.proxy.View()
	}
	h.respondJSON(w, http.StatusOK, status)
}

// ParsePricesRequest is the synchronous caller payload.
type ParsePricesRequest struct {
	SKUs []string `json:"skus"`
}

// ParsePricesResponse mirrors the legacy dashboard contract.
type ParsePricesResponse struct {
	Success bool            `json:"success"`
	Results []model.Outcome `json:"results"`
	Summary model.Summary   `json:"summary"`
}

// ParsePrices serves cached prices immediately, enqueues the rest, and waits
// up to the configured timeout. Partial result sets are returned as-is: a
// batch with some blocked targets still resolves the rest.
func (h *Handlers) ParsePrices(w http.ResponseWriter, r *http.Request) {
	var req ParsePricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	targets := queue.Dedupe(req.SKUs)
	if len(targets) == 0 {
		h.respondError(w, http.StatusBadRequest, "no valid skus provided")
		return
	}

	hits, misses := h.cache.Split(targets)
	results := hits
	if len(misses) > 0 {
		scraped, err := h.coord.EnqueueAndAwait(r.Context(), misses, h.waitTimeout)
		if err != nil && len(scraped) == 0 {
			h.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		results = append(results, scraped...)
	}

	summary := model.Summarize(results, len(targets))
	h.respondJSON(w, http.StatusOK, ParsePricesResponse{
		Success: summary.Successful > 0,
		Results: results,
		Summary: summary,
	})
}

// ProxyUpdateRequest mutates the proxy settings at runtime.
type ProxyUpdateRequest struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       string `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	RefreshURL string `json:"refresh_url"`
}

func (h *Handlers) GetProxy(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		h.respondJSON(w, http.StatusOK, proxy.View{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.proxy.View())
}

func (h *Handlers) UpdateProxy(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		h.respondError(w, http.StatusServiceUnavailable, "proxy control not configured")
		return
	}

	var req ProxyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled && (req.Host == "" || req.Port == "") {
		h.respondError(w, http.StatusBadRequest, "host and port are required to enable the proxy")
		return
	}

	h.proxy.Update(proxy.Settings{
		Enabled:    req.Enabled,
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   req.Password,
		RefreshURL: req.RefreshURL,
	})
	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"proxy":   h.proxy.View(),
	})
}

func (h *Handlers) RotateProxy(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil || !h.proxy.CanRotate() {
		h.respondError(w, http.StatusServiceUnavailable, "no rotation endpoint configured")
		return
	}

	err := h.proxy.Rotate(r.Context())
	if err != nil {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) TestProxy(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		h.respondError(w, http.StatusServiceUnavailable, "proxy control not configured")
		return
	}

	ip, err := h.proxy.CheckIP(r.Context())
	if err != nil {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"ip":      ip,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
