package handlers

import (
	"vn.io.arda/cropalert/internal/kafka/registry"
)

// Topic names. They match the defaults in config.
const (
	TopicAlertEvents      = "alert-events"
	TopicPreferenceEvents = "preference-events"
	TopicAlertCommands    = "alert-commands"
)

// Register is a convenience alias so each handler file calls Register(...)
// instead of registry.Register(...).
func Register(topic, eventType string, h registry.EventHandler) {
	registry.Register(topic, eventType, h)
}

// RegisterDirect registers a handler for topics that don't use eventType routing.
func RegisterDirect(topic string, h registry.EventHandler) {
	registry.Register(topic, "", h)
}
