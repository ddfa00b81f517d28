package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/kafka/registry"
)

func makeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestRegisterAndDispatch(t *testing.T) {
	called := false
	registry.Register("test-topic", "TEST_EVENT", func(data []byte) *domain.AlertEvent {
		called = true
		return &domain.AlertEvent{Kind: domain.EventAlertSubmitted, AlertID: 7}
	})

	result := registry.Dispatch("test-topic", makeJSON(map[string]string{
		"eventType": "TEST_EVENT",
	}))

	assert.True(t, called, "handler was not called")
	require.NotNil(t, result)
	assert.EqualValues(t, 7, result.AlertID)
}

func TestDispatch_UnknownEvent_ReturnsNil(t *testing.T) {
	result := registry.Dispatch("test-topic", makeJSON(map[string]string{
		"eventType": "UNKNOWN_EVENT_XYZ",
	}))
	assert.Nil(t, result)
}

func TestDispatch_InvalidJSON_ReturnsNil(t *testing.T) {
	assert.Nil(t, registry.Dispatch("test-topic", []byte("not json")))
}

func TestDispatchDirect(t *testing.T) {
	registry.Register("direct-topic", "", func(data []byte) *domain.AlertEvent {
		return &domain.AlertEvent{Kind: domain.EventPollRequested, Email: "farmer@test.com"}
	})

	assert.True(t, registry.HasDirect("direct-topic"))
	assert.False(t, registry.HasDirect("test-topic"))

	result := registry.DispatchDirect("direct-topic", []byte(`{}`))
	require.NotNil(t, result)
	assert.Equal(t, "farmer@test.com", result.Email)

	assert.Nil(t, registry.DispatchDirect("missing-topic", []byte(`{}`)))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	registry.Register("dupe-topic", "DUPE_EVENT", func(_ []byte) *domain.AlertEvent { return nil })
	assert.Panics(t, func() {
		registry.Register("dupe-topic", "DUPE_EVENT", func(_ []byte) *domain.AlertEvent { return nil })
	})
}
