package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(Event{Type: TypeCallCreated, Data: map[string]int{"id": 1}})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.Type != TypeCallCreated || got.At.IsZero() {
				t.Fatalf("subscriber %s got %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestHubDropsForFullSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Type: TypeCallUpdated})
	hub.Publish(Event{Type: TypeCallUpdated})
	hub.Publish(Event{Type: TypeCallUpdated})

	if got := hub.Dropped(); got != 2 {
		t.Fatalf("dropped=%d, want 2", got)
	}
	if len(ch) != 1 {
		t.Fatalf("buffered=%d, want 1", len(ch))
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers=%d, want 1", hub.Subscribers())
	}
	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers=%d, want 0", hub.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	hub.Publish(Event{Type: TypeCallCreated})
}

func TestServeWSStreamsEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	server := httptest.NewServer(ServeWS(hub, nil))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(Event{Type: TypeTranscriptAdded, Data: map[string]string{"speaker": "agent"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != TypeTranscriptAdded || got.Data["speaker"] != "agent" {
		t.Fatalf("event=%+v", got)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after client closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWSSelectsProtocolAndRejectsCrossOrigin(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	server := httptest.NewServer(ServeWS(hub, nil))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	dialer := websocket.Dialer{Subprotocols: []string{Protocol}}
	conn, resp, err := dialer.Dial(wsURL, http.Header{"Origin": {server.URL}})
	if err != nil {
		t.Fatalf("same-origin dial: %v", err)
	}
	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != Protocol {
		t.Fatalf("selected protocol=%q, want %q", got, Protocol)
	}
	_ = conn.Close()

	_, resp, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("cross-origin dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin response=%v, want 403", resp)
	}
}
