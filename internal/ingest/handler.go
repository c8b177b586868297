package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"argus-vms/internal/queue"
	"argus-vms/internal/schema"
)

// Handler accepts alert batches over HTTP and feeds the ring buffer.
type Handler struct {
	validator   *schema.Validator
	queue       *queue.RingBuffer
	maxPayload  int
	maxBatch    int
	startTime   time.Time
	alertsTotal atomic.Uint64
}

func NewHandler(validator *schema.Validator, q *queue.RingBuffer) *Handler {
	return &Handler{
		validator:  validator,
		queue:      q,
		maxPayload: 10 * 1024 * 1024,
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// IngestRequest is the body of POST /v1/alerts.
type IngestRequest struct {
	Alerts []schema.AlertInput `json:"alerts"`
}

// IngestResponse reports per-batch intake results. Errors carries one
// entry per rejected alert, indexed into the submitted batch.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleAlerts handles POST /v1/alerts. A batch succeeds alert by
// alert: valid entries are queued even when others fail, and a mixed
// outcome returns 207.
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}
	if len(req.Alerts) == 0 {
		respondError(w, http.StatusBadRequest, "no alerts provided", requestID)
		return
	}
	if len(req.Alerts) > h.maxBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	resp := h.ingestBatch(req.Alerts)
	resp.RequestID = requestID

	status := http.StatusOK
	switch {
	case resp.Accepted == 0 && resp.Rejected > 0:
		status = http.StatusBadRequest
	case resp.Rejected > 0:
		status = http.StatusMultiStatus
	}

	respondJSON(w, status, resp)
}

func (h *Handler) ingestBatch(inputs []schema.AlertInput) IngestResponse {
	var resp IngestResponse

	receivedAt := time.Now().UTC()
	for i, input := range inputs {
		alert := input.ToAlert(receivedAt)

		if err := h.validator.Validate(alert); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("alert[%d]: %s", i, err))
			continue
		}

		if err := h.queue.Push(alert); err != nil {
			resp.Rejected++
			if errors.Is(err, queue.ErrQueueFull) {
				resp.Errors = append(resp.Errors, fmt.Sprintf("alert[%d]: queue full", i))
			} else {
				resp.Errors = append(resp.Errors, fmt.Sprintf("alert[%d]: %s", i, err))
			}
			continue
		}

		resp.Accepted++
		h.alertsTotal.Add(1)
	}

	resp.Success = resp.Rejected == 0
	return resp
}

// HealthCheck handles GET /health. Reports degraded when the queue
// runs above 90% of capacity.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	status := "healthy"
	if metrics.Depth > int(float64(metrics.Capacity)*0.9) {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"queue_depth":    metrics.Depth,
		"queue_capacity": metrics.Capacity,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

// Metrics handles GET /metrics in Prometheus text format.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "argus_alerts_total", "counter", "Total number of alerts ingested", h.alertsTotal.Load())
	writeMetric(w, "argus_queue_pushed_total", "counter", "Total alerts pushed to queue", metrics.Pushed)
	writeMetric(w, "argus_queue_popped_total", "counter", "Total alerts popped from queue", metrics.Popped)
	writeMetric(w, "argus_queue_dropped_total", "counter", "Total alerts dropped due to full queue", metrics.Dropped)
	writeMetric(w, "argus_queue_depth", "gauge", "Current queue depth", uint64(metrics.Depth))
	writeMetric(w, "argus_queue_capacity", "gauge", "Queue capacity", uint64(metrics.Capacity))
	writeMetric(w, "argus_uptime_seconds", "gauge", "Uptime in seconds", uint64(time.Since(h.startTime).Seconds()))
}

func writeMetric(w io.Writer, name, kind, help string, value uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, value)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, requestID string) {
	respondJSON(w, status, map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	})
}
