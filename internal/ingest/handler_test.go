package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"argus-vms/internal/queue"
	"argus-vms/internal/schema"
)

func newTestHandler(capacity int) (*Handler, *queue.RingBuffer) {
	q := queue.NewRingBuffer(capacity)
	return NewHandler(schema.NewValidator(), q), q
}

func alertInput() schema.AlertInput {
	return schema.AlertInput{
		OrganizationID: 5,
		RuleID:         2,
		CameraID:       9,
		Timestamp:      time.Now().UTC().Add(-time.Minute),
		Criticality:    schema.CriticalityMedium,
		Detail:         "loitering near entrance",
	}
}

func postAlerts(t *testing.T, h *Handler, req IngestRequest) (*httptest.ResponseRecorder, IngestResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleAlerts(w, r)

	var resp IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return w, resp
}

func TestHandleAlertsAcceptsBatch(t *testing.T) {
	h, q := newTestHandler(16)

	_, resp := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{alertInput(), alertInput(), alertInput()},
	})

	if !resp.Success {
		t.Errorf("expected success, got errors: %v", resp.Errors)
	}
	if resp.Accepted != 3 || resp.Rejected != 0 {
		t.Errorf("accepted=%d rejected=%d, want 3/0", resp.Accepted, resp.Rejected)
	}
	if q.Len() != 3 {
		t.Errorf("expected 3 queued alerts, got %d", q.Len())
	}
	if resp.RequestID == "" {
		t.Error("expected a request ID")
	}
}

func TestHandleAlertsRejectsInvalid(t *testing.T) {
	h, q := newTestHandler(16)

	bad := alertInput()
	bad.Criticality = "catastrophic"

	w, resp := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{alertInput(), bad},
	})

	if w.Code != http.StatusMultiStatus {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMultiStatus)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", resp.Accepted, resp.Rejected)
	}
	if len(resp.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", resp.Errors)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 queued alert, got %d", q.Len())
	}
}

func TestHandleAlertsAllInvalid(t *testing.T) {
	h, _ := newTestHandler(16)

	bad := alertInput()
	bad.Timestamp = time.Time{}

	w, resp := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{bad},
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp.Accepted != 0 || resp.Rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 0/1", resp.Accepted, resp.Rejected)
	}
}

func TestHandleAlertsEmptyBatch(t *testing.T) {
	h, _ := newTestHandler(16)

	w, _ := postAlerts(t, h, IngestRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleAlertsInvalidJSON(t *testing.T) {
	h, _ := newTestHandler(16)

	r := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h.HandleAlerts(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleAlertsBatchTooLarge(t *testing.T) {
	h, _ := newTestHandler(16)
	h.WithMaxBatch(2)

	w, _ := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{alertInput(), alertInput(), alertInput()},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleAlertsQueueFull(t *testing.T) {
	h, _ := newTestHandler(1)

	w, resp := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{alertInput(), alertInput()},
	})

	if w.Code != http.StatusMultiStatus {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMultiStatus)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", resp.Accepted, resp.Rejected)
	}
}

func TestHealthCheckReportsQueueDepth(t *testing.T) {
	h, q := newTestHandler(10)

	in := alertInput()
	q.Push(in.ToAlert(time.Now().UTC()))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if resp["queue_depth"].(float64) != 1 {
		t.Errorf("queue_depth = %v, want 1", resp["queue_depth"])
	}
}

func TestMetricsOutput(t *testing.T) {
	h, _ := newTestHandler(10)

	_, resp := postAlerts(t, h, IngestRequest{
		Alerts: []schema.AlertInput{alertInput()},
	})
	if resp.Accepted != 1 {
		t.Fatalf("setup: accepted = %d", resp.Accepted)
	}

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.Metrics(w, r)

	body := w.Body.String()
	if !bytes.Contains([]byte(body), []byte("argus_alerts_total 1")) {
		t.Errorf("expected argus_alerts_total 1 in metrics output:\n%s", body)
	}
	if !bytes.Contains([]byte(body), []byte("argus_queue_depth 1")) {
		t.Errorf("expected argus_queue_depth 1 in metrics output:\n%s", body)
	}
}
