package models

// BatchJob asks the worker to run one dispatcher pass for a campaign.
// Batch continuation and retry re-entry both publish this job instead
// of calling the HTTP API back on itself.
type BatchJob struct {
	CampaignID int64 `json:"campaign_id"`
}
