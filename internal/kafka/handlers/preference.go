package handlers

import (
	"encoding/json"

	"vn.io.arda/cropalert/internal/domain"
)

func init() {
	Register(TopicPreferenceEvents, string(domain.EventPreferenceChanged), handlePreferenceChanged)
}

func handlePreferenceChanged(data []byte) *domain.AlertEvent {
	var env struct {
		EventID string `json:"eventId"`
		Payload struct {
			Email   string `json:"email"`
			Enabled *bool  `json:"enabled"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Payload.Email == "" {
		return nil
	}
	return &domain.AlertEvent{
		Kind:          domain.EventPreferenceChanged,
		Email:         env.Payload.Email,
		Enabled:       env.Payload.Enabled,
		SourceEventID: env.EventID,
	}
}
