package narration

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func startHub(t *testing.T, clk clock.Clock) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(clk, testLogger())
	e := echo.New()
	hub.RegisterRoutes(e.Group("/v1"))
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/narration/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return hub.Listeners() == 1 })
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_SpeakAcknowledged(t *testing.T) {
	hub, conn := startHub(t, clock.NewMock())
	line := Line{ID: "line-1", Text: "A door ahead", Priority: PriorityMedium}

	done := make(chan error, 1)
	go func() { done <- hub.Speak(context.Background(), line) }()

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSpeak || msg.Line == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Line.Text != line.Text || msg.Line.Priority != PriorityMedium {
		t.Errorf("line = %+v", msg.Line)
	}

	if err := conn.WriteJSON(Message{Type: MessageTypeSpoken, ID: "line-1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after acknowledgement")
	}
}

func TestHub_SpeakCancelled(t *testing.T) {
	hub, conn := startHub(t, clock.NewMock())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Speak(ctx, Line{ID: "line-2", Text: "describing"}) }()

	if msg := readMessage(t, conn); msg.Type != MessageTypeSpeak {
		t.Fatalf("unexpected message %+v", msg)
	}
	cancel()

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeCancel || msg.ID != "line-2" {
		t.Errorf("expected cancel for line-2, got %+v", msg)
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHub_SpeakWithoutListeners(t *testing.T) {
	hub := NewHub(clock.NewMock(), testLogger())
	if err := hub.Speak(context.Background(), Line{ID: "x", Text: "nobody hears this"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHub_Estimate(t *testing.T) {
	hub := NewHub(clock.NewMock(), testLogger())
	if got := hub.estimate("hi"); got != minSpeakDuration {
		t.Errorf("short line estimate = %v, want %v", got, minSpeakDuration)
	}
	if got := hub.estimate("one two three four five six seven eight nine ten"); got != 4*time.Second {
		t.Errorf("ten words estimate = %v, want 4s", got)
	}
}
