package auditlog

import "time"

// Action types written by the engines.
const (
	ActionQueueCreated         = "queue_created"
	ActionReinstated           = "reinstated"
	ActionInvoiceCreated       = "invoice_created"
	ActionInvoiceStatusUpdated = "invoice_status_updated"
)

// QueueStatusAction is the action type for a queue transition into status,
// e.g. "queue_called".
func QueueStatusAction(status string) string {
	return "queue_" + status
}

// Entry is one row of user_activity_logs.
type Entry struct {
	ID          int64     `json:"log_id"`
	UserID      int64     `json:"user_id"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	UserID     int64
	ActionType string
}
