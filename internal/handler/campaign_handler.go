package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/service"
)

// CampaignHandler handles campaign control HTTP requests
type CampaignHandler struct {
	campaignSvc service.CampaignService
	retrySvc    service.RetryService
	logger      *slog.Logger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignSvc service.CampaignService, retrySvc service.RetryService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaignSvc: campaignSvc,
		retrySvc:    retrySvc,
		logger:      logger,
	}
}

// executeResponse is the wire shape of a successful execute call
type executeResponse struct {
	Success    bool   `json:"success"`
	CampaignID int64  `json:"campaign_id"`
	Status     string `json:"status"`
	Processed  *int   `json:"processed,omitempty"`
	Sent       *int   `json:"sent,omitempty"`
	Failed     *int   `json:"failed,omitempty"`
	Remaining  *int64 `json:"remaining,omitempty"`
}

// retryResponse is the wire shape of a successful retry call
type retryResponse struct {
	Success    bool  `json:"success"`
	CampaignID int64 `json:"campaign_id"`
	Retried    int   `json:"retried"`
	Skipped    int   `json:"skipped"`
	MaxRetries int   `json:"max_retries"`
}

// Execute handles POST /campaigns/{id}/execute
func (h *CampaignHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID")
		return
	}

	var req service.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	result, err := h.campaignSvc.Execute(r.Context(), id, &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	resp := executeResponse{
		Success:    true,
		CampaignID: result.CampaignID,
		Status:     result.Status,
	}
	if result.Batch != nil {
		resp.Processed = &result.Batch.Processed
		resp.Sent = &result.Batch.Sent
		resp.Failed = &result.Batch.Failed
		resp.Remaining = &result.Batch.Remaining
	}

	respondSuccess(w, resp)
}

// Retry handles POST /campaigns/{id}/retry
func (h *CampaignHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID")
		return
	}

	var req service.RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	result, err := h.retrySvc.Retry(r.Context(), id, &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, retryResponse{
		Success:    true,
		CampaignID: result.CampaignID,
		Retried:    result.Retried,
		Skipped:    result.Skipped,
		MaxRetries: result.MaxRetries,
	})
}

// GetCampaign handles GET /campaigns/{id}
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID")
		return
	}

	campaign, err := h.campaignSvc.GetByID(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, campaign)
}

// ListRecipients handles GET /campaigns/{id}/recipients
func (h *CampaignHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID")
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	status := query.Get("status")
	if status != "" && !models.IsValidDeliveryStatus(status) {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid delivery status filter")
		return
	}

	filter := models.RecipientFilter{
		CampaignID: id,
		Status:     status,
		Page:       page,
		PageSize:   pageSize,
	}

	result, err := h.campaignSvc.ListRecipients(r.Context(), filter)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, result)
}

// campaignID extracts the campaign ID from the route
func campaignID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
