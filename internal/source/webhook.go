package source

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v60/github"

	"dispatchd/internal/metrics"
	"dispatchd/internal/task"
	"dispatchd/internal/tracing"
)

// WebhookHandler is the push TaskSource: it validates, converts, and hands
// off each delivery, then answers immediately. Execution happens
// asynchronously to the HTTP exchange.
type WebhookHandler struct {
	secret    []byte
	builder   *Builder
	submitter Submitter
	logger    *slog.Logger
}

// NewWebhookHandler creates the push source handler.
func NewWebhookHandler(secret string, builder *Builder, submitter Submitter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    []byte(secret),
		builder:   builder,
		submitter: submitter,
		logger:    logger.With("component", "webhook-source"),
	}
}

// ServeHTTP handles one GitHub webhook delivery.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	// ValidatePayload compares the HMAC-SHA256 signature in constant time.
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unauthorized").Inc()
		h.logger.Warn("webhook signature validation failed", "err", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)

	ctx, span := tracing.IngestSpan(r.Context(), "webhook", eventType)
	defer span.End()

	t, err := h.builder.Build("webhook", eventType, deliveryID, payload)
	if err != nil {
		if dropped(err) {
			metrics.WebhookRequestsTotal.WithLabelValues("ignored").Inc()
			h.logger.Info("webhook delivery ignored", "event_type", eventType, "delivery_id", deliveryID, "reason", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		metrics.WebhookRequestsTotal.WithLabelValues("invalid").Inc()
		h.logger.Error("webhook payload rejected", "event_type", eventType, "delivery_id", deliveryID, "err", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	decision, err := h.submitter.Submit(ctx, t)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("error").Inc()
		h.logger.Error("task submission failed", "task_id", t.ID, "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues(string(decision)).Inc()
	h.logger.Info("webhook delivery accepted",
		"event_type", eventType, "delivery_id", deliveryID,
		"task_id", t.ID, "decision", decision)

	status := http.StatusAccepted
	if decision == task.Deduped {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{
		"status":      string(decision),
		"delivery_id": deliveryID,
		"task_id":     t.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
