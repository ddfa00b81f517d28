package domain

// Alert is a community disease report as returned by the agri backend.
// Only ID carries meaning for polling; the rest is passed through.
type Alert struct {
	ID                int64  `json:"id"`
	FarmerName        string `json:"farmerName"`
	Location          string `json:"location"`
	DiseaseReported   string `json:"diseaseReported"`
	Description       string `json:"description,omitempty"`
	PreventionMethods string `json:"preventionMethods,omitempty"`
	ImageURL          string `json:"imageUrl,omitempty"`
	UserEmail         string `json:"userEmail,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
}

// EventKind identifies what an AlertEvent asks the service to do.
type EventKind string

const (
	// EventAlertSubmitted means a new alert exists somewhere; armed pollers
	// should check now instead of waiting for their next tick.
	EventAlertSubmitted EventKind = "ALERT_SUBMITTED"
	// EventPreferenceChanged means a user's notification preference changed
	// outside this service.
	EventPreferenceChanged EventKind = "PREFERENCE_CHANGED"
	// EventRefreshRequested asks every session of Email to recompute its
	// watermark (e.g. after alerts were deleted by an operator).
	EventRefreshRequested EventKind = "REFRESH"
	// EventPollRequested asks every session of Email to poll immediately.
	EventPollRequested EventKind = "POLL"
)

// AlertEvent is produced by the Kafka handlers and consumed by the service.
type AlertEvent struct {
	Kind          EventKind
	Email         string
	AlertID       int64
	Location      string
	Enabled       *bool
	SourceEventID string
}
