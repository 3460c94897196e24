package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       100,
	}
}

func TestDialer_Dial(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDialer_DialFailure(t *testing.T) {
	dialer := NewDialer(testTransportConfig(), nil)
	_, err := dialer.Dial(context.Background(), "ws://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestTransport_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	testMsg := []byte(`{"type":"ping"}`)
	if err := tr.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestTransport_Inbound(t *testing.T) {
	testMessages := []string{
		`{"type":"data","channel":"x","payload":1}`,
		`{"type":"data","channel":"x","payload":2}`,
		`{"type":"pong"}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	var received []string
	timeout := time.After(2 * time.Second)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-tr.Inbound():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	// Delivery preserves receive order.
	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestTransport_SendAfterClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := tr.Send([]byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestTransport_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestTransport_RemoteCloseSurfacesFault(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
			time.Now().Add(time.Second),
		)
	})
	defer server.Close()

	dialer := NewDialer(testTransportConfig(), nil)
	tr, err := dialer.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	// Inbound closes after the fault is queued.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Inbound():
			if ok {
				continue
			}
			select {
			case fault := <-tr.Faults():
				var ce *CloseError
				if !errors.As(fault, &ce) {
					t.Fatalf("expected CloseError, got %v", fault)
				}
				if ce.Code != websocket.CloseGoingAway {
					t.Errorf("Code = %d, want %d", ce.Code, websocket.CloseGoingAway)
				}
				if ce.Reason != "maintenance" {
					t.Errorf("Reason = %q, want %q", ce.Reason, "maintenance")
				}
				return
			default:
				t.Fatal("inbound closed without a queued fault")
			}
		case <-timeout:
			t.Fatal("timeout waiting for remote close")
		}
	}
}
