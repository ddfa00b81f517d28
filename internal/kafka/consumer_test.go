package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/cropalert/internal/domain"
)

type recordingSink struct {
	events []domain.AlertEvent
	err    error
}

func (s *recordingSink) HandleEvent(_ context.Context, ev domain.AlertEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestProcess_RoutesByTopic(t *testing.T) {
	sink := &recordingSink{}

	process(context.Background(), sink, &kgo.Record{
		Topic: "alert-events",
		Value: []byte(`{"eventType":"ALERT_SUBMITTED","eventId":"e1","payload":{"alertId":9}}`),
	})
	process(context.Background(), sink, &kgo.Record{
		Topic: "alert-commands",
		Value: []byte(`{"commandId":"c1","email":"farmer@test.com","action":"POLL"}`),
	})

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventAlertSubmitted, sink.events[0].Kind)
	assert.EqualValues(t, 9, sink.events[0].AlertID)
	assert.Equal(t, domain.EventPollRequested, sink.events[1].Kind)
	assert.Equal(t, "farmer@test.com", sink.events[1].Email)
}

func TestProcess_SkipsUnknown(t *testing.T) {
	sink := &recordingSink{}

	process(context.Background(), sink, &kgo.Record{Topic: "alert-events", Value: []byte(`{"eventType":"ALERT_DELETED"}`)})
	process(context.Background(), sink, &kgo.Record{Topic: "other-topic", Value: []byte(`{}`)})
	process(context.Background(), sink, &kgo.Record{Topic: "alert-events", Value: []byte(`garbage`)})

	assert.Empty(t, sink.events)
}

func TestProcess_SinkErrorIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("boom")}

	assert.NotPanics(t, func() {
		process(context.Background(), sink, &kgo.Record{
			Topic: "preference-events",
			Value: []byte(`{"eventType":"PREFERENCE_CHANGED","payload":{"email":"farmer@test.com"}}`),
		})
	})
	assert.Len(t, sink.events, 1)
}
