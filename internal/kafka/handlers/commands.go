package handlers

import (
	"encoding/json"
	"strings"

	"vn.io.arda/cropalert/internal/domain"
)

func init() {
	RegisterDirect(TopicAlertCommands, handleCommand)
}

// handleCommand accepts {commandId, email, action} where action is REFRESH
// or POLL. Anything else is skipped.
func handleCommand(data []byte) *domain.AlertEvent {
	var cmd struct {
		CommandID string `json:"commandId"`
		Email     string `json:"email"`
		Action    string `json:"action"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Email == "" {
		return nil
	}

	kind := domain.EventKind(strings.ToUpper(strings.TrimSpace(cmd.Action)))
	switch kind {
	case domain.EventRefreshRequested, domain.EventPollRequested:
	default:
		return nil
	}

	return &domain.AlertEvent{
		Kind:          kind,
		Email:         cmd.Email,
		SourceEventID: cmd.CommandID,
	}
}
