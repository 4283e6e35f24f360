package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	ch chan []byte
}

func (t *testClient) sendChannel() chan []byte { return t.ch }
func (t *testClient) closeConn()               {}

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &testClient{ch: make(chan []byte, 4)}
	hub.register <- client

	hub.Broadcast(NewExtractedEvent(42, 3))

	select {
	case raw := <-client.ch:
		var ev ExtractedEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, "memory.extracted", ev.Type)
		assert.Equal(t, int64(42), ev.TurnID)
		assert.Equal(t, 3, ev.FactsStored)
	case <-time.After(time.Second):
		t.Fatal("broadcast message never arrived")
	}
}

func TestEventHubDropsSlowClient(t *testing.T) {
	hub := NewEventHub(nil)
	go hub.Run()
	defer hub.Stop()

	fast := &testClient{ch: make(chan []byte, 4)}
	slow := &testClient{ch: make(chan []byte)} // unbuffered and unread
	hub.register <- fast
	hub.register <- slow

	hub.Broadcast(NewExtractedEvent(1, 1))
	hub.Broadcast(NewExtractedEvent(2, 1))

	// Broadcasts are handled sequentially, so once the fast client has both
	// messages the first broadcast is fully delivered and the slow client,
	// which could not take it, has been dropped.
	for i := 0; i < 2; i++ {
		select {
		case <-fast.ch:
		case <-time.After(time.Second):
			t.Fatal("fast client never received broadcast")
		}
	}

	select {
	case _, open := <-slow.ch:
		assert.False(t, open, "slow client channel should be closed, not delivered to")
	case <-time.After(time.Second):
		t.Fatal("slow client was never dropped")
	}
}

func TestEventHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewEventHub([]string{"http://localhost:7878"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
