package models

import "time"

// Audit action type constants, naming the component that acted
const (
	AuditTypeController = "controller"
	AuditTypeDispatcher = "dispatcher"
	AuditTypeRetry      = "retry"
	AuditTypeReconciler = "reconciler"
	AuditTypeSweep      = "sweep"
)

// AuditEntry is one append-only record of an engine action against a
// campaign. Entries are never updated or deleted.
type AuditEntry struct {
	ID          int64     `json:"id"`
	CampaignID  int64     `json:"campaign_id"`
	RecipientID *int64    `json:"recipient_id,omitempty"`
	Action      string    `json:"action"`
	ActionType  string    `json:"action_type"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
