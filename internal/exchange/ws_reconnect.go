package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscan/internal/models"
)

// WSConfig - конфигурация WebSocket сессии
type WSConfig struct {
	// Фиксированная задержка между попытками переподключения
	ReconnectDelay time.Duration
	// Максимальное количество попыток; после исчерпания сессия
	// остаётся в состоянии disconnected
	MaxAttempts int
	// Таймаут установки соединения
	ConnectTimeout time.Duration
	// Интервал отправки application-level ping (0 = не отправлять)
	PingInterval time.Duration
	// Тишина в канале дольше этого срока = зависшее соединение,
	// принудительный разрыв и переподключение
	StaleAfter time.Duration
}

// WSSession - WebSocket соединение с автоматическим переподключением
//
// Биржи разрывают даже исправные соединения, а иногда соединение
// "зависает": TCP жив, но данные не идут. Сессия закрывает оба случая:
//   - разрыв: переподключение с фиксированной задержкой и лимитом попыток
//   - зависание: сторож по времени последнего сообщения рвёт соединение сам
//
// После успешного переподключения счётчик попыток сбрасывается и все
// сохранённые подписки отправляются заново.
//
// Disconnect() - окончательная остановка: переподключений после него нет.
type WSSession struct {
	name string
	url  string
	cfg  WSConfig
	log  *zap.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex
	// gorilla/websocket допускает только одного писателя на соединение
	writeMu sync.Mutex

	// Текущий статус (models.ConnectionStatus за atomic.Value)
	status atomic.Value

	attempts int32 // atomic

	// Unix nanos последнего входящего сообщения
	lastMessage int64 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	// cycleStop закрывается при разрыве, останавливает сторожа этого цикла
	cycleStop chan struct{}
	cycleMu   sync.Mutex

	onMessage func([]byte)
	onStatus  func(models.ConnectionStatus)
	// pingFrame возвращает application-level ping кадр биржи
	pingFrame func() interface{}

	// Подписки для восстановления после переподключения
	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex
}

// NewWSSession создаёт сессию. name используется в логах.
func NewWSSession(name, url string, cfg WSConfig, logger *zap.Logger) *WSSession {
	s := &WSSession{
		name:      name,
		url:       url,
		cfg:       cfg,
		log:       logger.Named(name),
		closeChan: make(chan struct{}),
	}
	s.status.Store(models.StatusDisconnected)
	return s
}

// SetOnMessage устанавливает обработчик входящих сообщений.
// Вызывается из горутины чтения; обработчик обязан быть быстрым.
func (s *WSSession) SetOnMessage(handler func([]byte)) {
	s.onMessage = handler
}

// SetOnStatus устанавливает обработчик смены статуса
func (s *WSSession) SetOnStatus(handler func(models.ConnectionStatus)) {
	s.onStatus = handler
}

// SetPingFrame задаёт кадр application-level ping.
// Стандартный WebSocket ping биржи игнорируют, нужен кадр их протокола.
func (s *WSSession) SetPingFrame(frame func() interface{}) {
	s.pingFrame = frame
}

// AddSubscription сохраняет кадр подписки для отправки при (пере)подключении
func (s *WSSession) AddSubscription(sub interface{}) {
	s.subscriptionsMu.Lock()
	s.subscriptions = append(s.subscriptions, sub)
	s.subscriptionsMu.Unlock()
}

// Status возвращает текущий статус
func (s *WSSession) Status() models.ConnectionStatus {
	return s.status.Load().(models.ConnectionStatus)
}

// LastMessageAt возвращает время последнего входящего сообщения
func (s *WSSession) LastMessageAt() time.Time {
	ns := atomic.LoadInt64(&s.lastMessage)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *WSSession) setStatus(status models.ConnectionStatus) {
	s.status.Store(status)
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

// Connect устанавливает соединение и запускает горутины чтения и сторожа
func (s *WSSession) Connect() error {
	select {
	case <-s.closeChan:
		return fmt.Errorf("session is closed")
	default:
	}

	s.setStatus(models.StatusConnecting)

	if err := s.dial(); err != nil {
		s.setStatus(models.StatusError)
		go s.reconnectLoop()
		return err
	}

	s.startCycle()
	return nil
}

// dial выполняет подключение и восстановление подписок
func (s *WSSession) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	atomic.StoreInt64(&s.lastMessage, time.Now().UnixNano())

	if err := s.resubscribe(); err != nil {
		s.log.Warn("resubscribe failed", zap.Error(err))
	}

	return nil
}

// startCycle фиксирует успешное подключение и запускает горутины цикла
func (s *WSSession) startCycle() {
	atomic.StoreInt32(&s.attempts, 0)

	s.cycleMu.Lock()
	s.cycleStop = make(chan struct{})
	stop := s.cycleStop
	s.cycleMu.Unlock()

	s.setStatus(models.StatusConnected)
	s.log.Info("websocket connected", zap.String("url", s.url))

	go s.readPump(stop)
	go s.watchdog(stop)
}

func (s *WSSession) resubscribe() error {
	s.subscriptionsMu.RLock()
	subs := make([]interface{}, len(s.subscriptions))
	copy(subs, s.subscriptions)
	s.subscriptionsMu.RUnlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, sub := range subs {
		s.writeMu.Lock()
		err := conn.WriteJSON(sub)
		s.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("send subscription: %w", err)
		}
	}

	if len(subs) > 0 {
		s.log.Info("subscriptions sent", zap.Int("count", len(subs)))
	}
	return nil
}

func (s *WSSession) readPump(stop chan struct{}) {
	for {
		select {
		case <-s.closeChan:
			return
		case <-stop:
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}

		atomic.StoreInt64(&s.lastMessage, time.Now().UnixNano())

		if s.onMessage != nil {
			s.onMessage(message)
		}
	}
}

// watchdog отправляет ping и следит за тишиной в канале
func (s *WSSession) watchdog(stop chan struct{}) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = s.cfg.StaleAfter / 2
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-stop:
			return
		case <-ticker.C:
			if s.cfg.StaleAfter > 0 {
				last := atomic.LoadInt64(&s.lastMessage)
				if last > 0 && time.Since(time.Unix(0, last)) > s.cfg.StaleAfter {
					s.log.Warn("no messages, forcing reconnect",
						zap.Duration("silence", time.Since(time.Unix(0, last))))
					s.handleDisconnect(fmt.Errorf("stale connection"))
					return
				}
			}

			if s.pingFrame != nil {
				if err := s.Send(s.pingFrame()); err != nil {
					s.log.Warn("ping failed", zap.Error(err))
					s.handleDisconnect(err)
					return
				}
			}
		}
	}
}

// handleDisconnect закрывает соединение и запускает переподключение
func (s *WSSession) handleDisconnect(err error) {
	select {
	case <-s.closeChan:
		return
	default:
	}

	// Останавливаем горутины текущего цикла; повторный вызов в том же
	// цикле ничего не делает
	s.cycleMu.Lock()
	if s.cycleStop != nil {
		select {
		case <-s.cycleStop:
			s.cycleMu.Unlock()
			return
		default:
			close(s.cycleStop)
		}
	}
	s.cycleMu.Unlock()

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	if err != nil {
		s.log.Warn("websocket disconnected", zap.Error(err))
	}
	s.setStatus(models.StatusDisconnected)

	go s.reconnectLoop()
}

// reconnectLoop переподключается с фиксированной задержкой
func (s *WSSession) reconnectLoop() {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		attempt := atomic.AddInt32(&s.attempts, 1)
		if s.cfg.MaxAttempts > 0 && int(attempt) > s.cfg.MaxAttempts {
			s.log.Error("reconnect attempts exhausted",
				zap.Int("maxAttempts", s.cfg.MaxAttempts))
			s.setStatus(models.StatusDisconnected)
			return
		}

		s.log.Info("reconnecting",
			zap.Duration("delay", s.cfg.ReconnectDelay),
			zap.Int32("attempt", attempt),
			zap.Int("maxAttempts", s.cfg.MaxAttempts))

		select {
		case <-s.closeChan:
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}

		s.setStatus(models.StatusConnecting)

		if err := s.dial(); err != nil {
			s.log.Warn("reconnect failed", zap.Error(err))
			s.setStatus(models.StatusError)
			continue
		}

		s.startCycle()
		return
	}
}

// Send отправляет JSON кадр через текущее соединение
func (s *WSSession) Send(msg interface{}) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Disconnect окончательно закрывает сессию
func (s *WSSession) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.setStatus(models.StatusDisconnected)
}
