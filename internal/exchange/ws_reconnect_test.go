package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscan/internal/models"
)

// wsTestServer - локальный WebSocket сервер для тестов сессии
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	// Полученные от клиента кадры (как строки)
	frames []string
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.frames = append(ts.frames, string(msg))
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) sendToClient(t *testing.T, msg string) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		t.Fatal("нет активных соединений")
	}
	conn := ts.conns[len(ts.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("отправка клиенту: %v", err)
	}
}

func (ts *wsTestServer) dropConnections() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, conn := range ts.conns {
		conn.Close()
	}
	ts.conns = nil
}

func (ts *wsTestServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func (ts *wsTestServer) receivedFrames() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.frames))
	copy(out, ts.frames)
	return out
}

func testWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay: 50 * time.Millisecond,
		MaxAttempts:    10,
		ConnectTimeout: 2 * time.Second,
		PingInterval:   time.Hour, // ping в тестах не нужен
		StaleAfter:     time.Hour,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWSSessionConnectAndReceive(t *testing.T) {
	ts := newWSTestServer(t)

	session := NewWSSession("test", ts.url(), testWSConfig(), zap.NewNop())
	session.AddSubscription(map[string]string{"method": "subscribe", "channel": "test"})

	var mu sync.Mutex
	var messages []string
	session.SetOnMessage(func(data []byte) {
		mu.Lock()
		messages = append(messages, string(data))
		mu.Unlock()
	})

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Disconnect()

	if session.Status() != models.StatusConnected {
		t.Errorf("статус = %v", session.Status())
	}

	// Подписка должна дойти до сервера
	waitFor(t, time.Second, func() bool {
		return len(ts.receivedFrames()) >= 1
	}, "подписка не дошла до сервера")

	frames := ts.receivedFrames()
	if !strings.Contains(frames[0], `"channel":"test"`) {
		t.Errorf("кадр подписки: %s", frames[0])
	}

	ts.sendToClient(t, `{"hello":"world"}`)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 1
	}, "сообщение не дошло до клиента")
}

func TestWSSessionReconnectsAndResubscribes(t *testing.T) {
	ts := newWSTestServer(t)

	session := NewWSSession("test", ts.url(), testWSConfig(), zap.NewNop())
	session.AddSubscription(map[string]string{"channel": "a"})

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Disconnect()

	waitFor(t, time.Second, func() bool {
		return len(ts.receivedFrames()) >= 1
	}, "первая подписка не дошла")

	// Рвём соединение со стороны сервера
	ts.dropConnections()

	waitFor(t, 3*time.Second, func() bool {
		return ts.connCount() >= 1 && session.Status() == models.StatusConnected
	}, "сессия не переподключилась")

	// После переподключения подписка отправлена повторно
	waitFor(t, time.Second, func() bool {
		return len(ts.receivedFrames()) >= 2
	}, "подписка не восстановлена после переподключения")
}

func TestWSSessionDisconnectIsFinal(t *testing.T) {
	ts := newWSTestServer(t)

	session := NewWSSession("test", ts.url(), testWSConfig(), zap.NewNop())
	if err := session.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	session.Disconnect()

	if session.Status() != models.StatusDisconnected {
		t.Errorf("статус = %v", session.Status())
	}

	// Даём время на гипотетическое переподключение - его быть не должно
	before := ts.connCount()
	time.Sleep(200 * time.Millisecond)
	if ts.connCount() > before {
		t.Error("сессия переподключилась после Disconnect")
	}

	if err := session.Connect(); err == nil {
		t.Error("Connect после Disconnect должен возвращать ошибку")
	}
}

func TestWSSessionStatusCallbacks(t *testing.T) {
	ts := newWSTestServer(t)

	session := NewWSSession("test", ts.url(), testWSConfig(), zap.NewNop())

	var mu sync.Mutex
	var statuses []models.ConnectionStatus
	session.SetOnStatus(func(st models.ConnectionStatus) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 2 {
		t.Fatalf("статусов: %d, ожидали connecting -> connected", len(statuses))
	}
	if statuses[0] != models.StatusConnecting || statuses[len(statuses)-1] != models.StatusConnected {
		t.Errorf("последовательность: %v", statuses)
	}
}

func TestWSSessionStopsAfterExhaustedAttempts(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	cfg := testWSConfig()
	cfg.ReconnectDelay = 30 * time.Millisecond
	cfg.MaxAttempts = 2

	session := NewWSSession("test", "ws"+strings.TrimPrefix(srv.URL, "http"), cfg, zap.NewNop())
	if err := session.Connect(); err == nil {
		t.Fatal("Connect к недоступному серверу должен вернуть ошибку")
	}
	defer session.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		return session.Status() == models.StatusDisconnected
	}, "после исчерпания попыток статус должен стать disconnected")

	// Первый дозвон + MaxAttempts повторов, дальше тишина
	dials := atomic.LoadInt32(&requests)
	if dials != 3 {
		t.Errorf("попыток подключения: %d, ожидали 3", dials)
	}

	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&requests); got != dials {
		t.Errorf("после исчерпания лимита попытки продолжились: %d -> %d", dials, got)
	}
	if session.Status() != models.StatusDisconnected {
		t.Errorf("статус = %v", session.Status())
	}
}
