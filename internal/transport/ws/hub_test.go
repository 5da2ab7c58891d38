package ws

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Per-user sends come from request goroutines (rotation fan-out, notice
// replay) while Run owns the client map. This drives both at once; under the
// race detector a direct map access from BroadcastToUser would fail it.
func TestBroadcastToUserDuringConnectionChurn(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	userID := uuid.New()
	client := NewClient(hub, nil, userID)
	hub.register <- client

	found := make(chan struct{})
	go func() {
		for data := range client.send {
			if strings.Contains(string(data), EventTypeKeyRotated) {
				close(found)
				return
			}
		}
	}()

	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for i := 0; i < 200; i++ {
			c := NewClient(hub, nil, uuid.New())
			hub.register <- c
			hub.unregister <- c
		}
	}()

	evt, err := NewEvent(EventTypeKeyRotated, nil, KeyRotatedPayload{KeyVersion: 2})
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		hub.BroadcastToUser(userID, evt)
	}

	<-churnDone
	select {
	case <-found:
	case <-time.After(2 * time.Second):
		t.Fatal("direct event never reached the client")
	}
}

func TestBroadcastToUnknownUserIsDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	evt, err := NewEvent(EventTypeKeyRotated, nil, KeyRotatedPayload{KeyVersion: 3})
	require.NoError(t, err)

	// Nobody registered; the send must neither block nor panic.
	for i := 0; i < 300; i++ {
		hub.BroadcastToUser(uuid.New(), evt)
	}
}
