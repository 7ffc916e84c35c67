package websocket

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscan/internal/models"
)

const (
	// Таймаут записи клиенту
	writeWait = 10 * time.Second

	// Сколько ждём pong от клиента
	pongWait = 60 * time.Second

	// Период ping (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 4096

	// Буфер отправки: при переполнении клиент считается медленным
	clientSendBufferSize = 256
)

// allowedOrigins читается из ALLOWED_ORIGINS (через запятую).
// Пустое значение - разрешены все источники (режим разработки).
func originChecker() func(r *http.Request) bool {
	raw := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if raw == "" || raw == "*" {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool)
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Не-браузерные клиенты заголовок не шлют
		return origin == "" || allowed[origin]
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin:       originChecker(),
}

// Client - одно WebSocket подключение
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger
	send chan []byte

	// Фильтр общего потока и подписки на детали.
	// Пишет readPump, читает горутина Run хаба.
	subMu   sync.RWMutex
	config  *models.SubscriptionConfig
	details map[string]struct{}
}

func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// trySend кладёт сообщение в буфер отправки.
// false означает переполнение - клиент не успевает читать.
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// matches проверяет возможность против фильтра клиента.
// Без фильтра проходит всё.
func (c *Client) matches(opp *models.ArbitrageOpportunity) bool {
	c.subMu.RLock()
	cfg := c.config
	c.subMu.RUnlock()
	if cfg == nil {
		return true
	}

	if cfg.MinNetSpreadBps != nil && opp.NetSpreadBps < *cfg.MinNetSpreadBps {
		return false
	}
	if cfg.MinScore != nil && opp.Score < *cfg.MinScore {
		return false
	}
	if len(cfg.Exchanges) > 0 {
		set := make(map[models.Exchange]bool, len(cfg.Exchanges))
		for _, ex := range cfg.Exchanges {
			set[ex] = true
		}
		if !set[opp.BuyExchange] || !set[opp.SellExchange] {
			return false
		}
	}
	if len(cfg.Symbols) > 0 {
		found := false
		for _, sym := range cfg.Symbols {
			if sym == opp.Symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Client) wantsDetails(id string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.details[id]
	return ok
}

func (c *Client) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("нечитаемое сообщение клиента", zap.Error(err))
		return
	}

	switch msg.Action {
	case ActionSubscribe:
		c.subMu.Lock()
		c.config = msg.Config
		c.subMu.Unlock()
		c.log.Debug("фильтр обновлён", zap.String("remote", c.RemoteAddr()))

	case ActionSubscribeToDetails:
		if msg.OpportunityID == "" {
			return
		}
		c.subMu.Lock()
		c.details[msg.OpportunityID] = struct{}{}
		c.subMu.Unlock()

	case ActionUnsubscribeFromDetails:
		c.subMu.Lock()
		delete(c.details, msg.OpportunityID)
		c.subMu.Unlock()

	default:
		c.log.Debug("неизвестное действие", zap.String("action", msg.Action))
	}
}

// readPump читает команды клиента до разрыва соединения
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("разрыв соединения", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump гонит сообщения из буфера отправки в сокет и пингует клиента
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Хаб закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP запрос и регистрирует клиента в хабе
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("апгрейд WebSocket", zap.Error(err))
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		log:     hub.log,
		send:    make(chan []byte, clientSendBufferSize),
		details: make(map[string]struct{}),
	}

	hub.register <- client
	go client.writePump()
	go client.readPump()
}
