package handlers

import (
	"encoding/json"

	"vn.io.arda/cropalert/internal/domain"
)

func init() {
	Register(TopicAlertEvents, string(domain.EventAlertSubmitted), handleAlertSubmitted)
}

type alertEnv struct {
	EventID string `json:"eventId"`
	Payload struct {
		AlertID  int64  `json:"alertId"`
		Location string `json:"location"`
	} `json:"payload"`
}

// handleAlertSubmitted nudges every armed poller; each one asks the backend
// whether the report is new for its own location.
func handleAlertSubmitted(data []byte) *domain.AlertEvent {
	var env alertEnv
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	return &domain.AlertEvent{
		Kind:          domain.EventAlertSubmitted,
		AlertID:       env.Payload.AlertID,
		Location:      env.Payload.Location,
		SourceEventID: env.EventID,
	}
}
