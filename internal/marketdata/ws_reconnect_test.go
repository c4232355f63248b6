package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// venueServer - тестовая площадка: запоминает входящие кадры,
// по команде рвёт текущее соединение
type venueServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	received []string
	conns    []*websocket.Conn
}

func newVenueServer(t *testing.T) *venueServer {
	t.Helper()
	v := &venueServer{}
	upgrader := websocket.Upgrader{}

	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.conns = append(v.conns, conn)
		v.mu.Unlock()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick","symbol":"a","price":"1"}`))

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			v.mu.Lock()
			v.received = append(v.received, string(msg))
			v.mu.Unlock()
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *venueServer) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *venueServer) dropAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.conns {
		c.Close()
	}
	v.conns = nil
}

func (v *venueServer) receivedCount(substr string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, m := range v.received {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func fastReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		ConnectTimeout: time.Second,
		PingInterval:   time.Hour,
		WriteTimeout:   time.Second,
	}
}

func TestWSReconnectManager_ConnectAndReceive(t *testing.T) {
	venue := newVenueServer(t)
	m := NewWSReconnectManager("test", venue.url(), fastReconnectConfig(), nil)
	defer m.Close()

	msgs := make(chan string, 4)
	m.SetOnMessage(func(b []byte) { msgs <- string(b) })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !m.IsConnected() {
		t.Fatalf("state = %s, want connected", m.GetState())
	}

	select {
	case got := <-msgs:
		if !strings.Contains(got, `"tick"`) {
			t.Errorf("message = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	// повторный Connect на живом соединении - no-op
	if err := m.Connect(context.Background()); err != nil {
		t.Errorf("second Connect: %v", err)
	}
}

func TestWSReconnectManager_ReconnectResubscribes(t *testing.T) {
	venue := newVenueServer(t)
	m := NewWSReconnectManager("test", venue.url(), fastReconnectConfig(), nil)
	defer m.Close()

	m.SetResubscribe(func() [][]byte {
		return [][]byte{[]byte(`{"op":"subscribe","symbols":["rb2410"]}`)}
	})

	var mu sync.Mutex
	disconnects := 0
	m.SetOnDisconnect(func(error) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, func() bool { return venue.receivedCount("rb2410") == 1 })

	venue.dropAll()

	waitFor(t, func() bool { return venue.receivedCount("rb2410") == 2 })
	waitFor(t, m.IsConnected)

	mu.Lock()
	defer mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want exactly 1", disconnects)
	}
}

func TestWSReconnectManager_SendAndClose(t *testing.T) {
	venue := newVenueServer(t)
	m := NewWSReconnectManager("test", venue.url(), fastReconnectConfig(), nil)

	if err := m.Send([]byte("x")); err == nil {
		t.Error("Send before Connect must fail")
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Send([]byte(`{"op":"ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return venue.receivedCount(`"ping"`) == 1 })

	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if m.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", m.GetState())
	}
	if err := m.Connect(context.Background()); err != ErrManagerClosed {
		t.Errorf("Connect after Close = %v, want ErrManagerClosed", err)
	}
	// повторный Close безопасен
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWSReconnectManager_DialFailure(t *testing.T) {
	m := NewWSReconnectManager("test", "ws://127.0.0.1:1/ws", fastReconnectConfig(), nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if m.GetState() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.GetState())
	}
}
