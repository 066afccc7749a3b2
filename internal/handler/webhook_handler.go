package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/service"
)

// WebhookHandler receives provider delivery-status callbacks. It always
// answers 200 with {"success":true} so a noisy or partially-unmatched
// payload never triggers a provider retry storm.
type WebhookHandler struct {
	reconciler service.ReconcilerService
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconciler service.ReconcilerService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// webhookPayload is the provider callback body: one or more status records
type webhookPayload struct {
	Statuses []webhookStatusRecord `json:"statuses"`
}

type webhookStatusRecord struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Timestamp   string         `json:"timestamp"`
	RecipientID string         `json:"recipient_id"`
	Errors      []webhookError `json:"errors,omitempty"`
}

type webhookError struct {
	Code    json.Number `json:"code"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// webhookResponse acknowledges receipt regardless of per-event outcome
type webhookResponse struct {
	Success bool `json:"success"`
	Applied int  `json:"applied"`
	Dropped int  `json:"dropped"`
}

// Receive handles POST /webhooks/{channel}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("undecodable webhook payload, acknowledging anyway",
			slog.String("error", err.Error()),
		)
		respondSuccess(w, webhookResponse{Success: true})
		return
	}

	events := make([]models.StatusEvent, 0, len(payload.Statuses))
	for _, record := range payload.Statuses {
		if record.ID == "" || record.Status == "" {
			continue
		}
		events = append(events, models.StatusEvent{
			MessageID:    record.ID,
			Status:       record.Status,
			Timestamp:    parseWebhookTimestamp(record.Timestamp),
			ErrorCode:    webhookErrorCode(record.Errors),
			ErrorMessage: webhookErrorMessage(record.Errors),
		})
	}

	result := h.reconciler.Reconcile(r.Context(), events)

	respondSuccess(w, webhookResponse{
		Success: true,
		Applied: result.Applied,
		Dropped: result.Dropped,
	})
}

// parseWebhookTimestamp accepts the unix-seconds form providers send,
// falling back to RFC3339, then to now
func parseWebhookTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

func webhookErrorCode(errs []webhookError) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Code.String()
}

func webhookErrorMessage(errs []webhookError) string {
	if len(errs) == 0 {
		return ""
	}
	if errs[0].Message != "" {
		return errs[0].Message
	}
	return errs[0].Title
}
