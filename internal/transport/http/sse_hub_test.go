package http

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/cropalert/internal/domain"
)

func TestHub_BroadcastScopedToSession(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()

	chA1 := make(chan []byte, 1)
	chA2 := make(chan []byte, 1)
	chB := make(chan []byte, 1)
	h.Register(a, chA1)
	h.Register(a, chA2)
	h.Register(b, chB)
	assert.Equal(t, 3, h.ConnectedCount())

	h.Broadcast(a, &domain.Toast{SessionID: a, Count: 2})

	for _, ch := range []chan []byte{chA1, chA2} {
		select {
		case msg := <-ch:
			assert.True(t, strings.HasPrefix(string(msg), "event: toast\ndata: "))
			assert.True(t, strings.HasSuffix(string(msg), "\n\n"))
			assert.Contains(t, string(msg), `"count":2`)
		default:
			t.Fatal("expected toast on session a")
		}
	}
	assert.Empty(t, chB)
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	h := NewHub()
	id := uuid.New()
	ch := make(chan []byte, 1)
	h.Register(id, ch)

	h.Broadcast(id, &domain.Toast{Count: 1})
	h.Broadcast(id, &domain.Toast{Count: 2}) // dropped

	assert.Len(t, ch, 1)
}

func TestHub_UnregisterAndDisconnect(t *testing.T) {
	h := NewHub()
	id := uuid.New()
	ch1 := make(chan []byte, 1)
	ch2 := make(chan []byte, 1)
	c1 := h.Register(id, ch1)
	h.Register(id, ch2)

	h.Unregister(c1)
	assert.Equal(t, 1, h.ConnectedCount())

	h.Disconnect(id)
	assert.Zero(t, h.ConnectedCount())
	_, ok := <-ch2
	require.False(t, ok, "disconnect closes the stream channel")

	// Broadcasting to a gone session is a no-op.
	h.Broadcast(id, &domain.Toast{})
}
