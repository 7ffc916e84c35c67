package websocket

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"arbscan/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Размеры буферов каналов хаба
const (
	opportunityBufferSize = 512
	removalBufferSize     = 128
	statusBufferSize      = 16
	statsBufferSize       = 4
)

// Отсечка мусора в общем потоке: глубоко отрицательный спред с нулевым
// score не интересен никому, кроме подписчиков деталей.
const (
	garbageNetSpreadBps = -50.0
	garbageScore        = 0.0
)

// OpportunitySource - то, что хаб спрашивает при подключении клиента.
// Реализуется агрегатором.
type OpportunitySource interface {
	AllOpportunities() []*models.ArbitrageOpportunity
	ConnectionStatuses() map[models.Exchange]models.ConnectionStatus
}

type statusEvent struct {
	exchange models.Exchange
	status   models.ConnectionStatus
}

// Hub управляет подключёнными WebSocket клиентами.
//
// Карта clients принадлежит горутине Run: регистрация, отписка и вся
// рассылка проходят через каналы, поэтому фан-аут не требует блокировок.
type Hub struct {
	source OpportunitySource
	log    *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	register      chan *Client
	unregister    chan *Client
	opportunities chan *models.ArbitrageOpportunity
	removals      chan string
	statuses      chan statusEvent
	stats         chan models.ServerStats
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewHub(source OpportunitySource, log *zap.Logger) *Hub {
	return &Hub{
		source:        source,
		log:           log.Named("ws-hub"),
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		opportunities: make(chan *models.ArbitrageOpportunity, opportunityBufferSize),
		removals:      make(chan string, removalBufferSize),
		statuses:      make(chan statusEvent, statusBufferSize),
		stats:         make(chan models.ServerStats, statsBufferSize),
		stop:          make(chan struct{}),
	}
}

// Run - главный цикл хаба. Запускать в отдельной горутине.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("клиент подключён",
				zap.String("remote", client.RemoteAddr()),
				zap.Int("total", total))
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.removeClient(client, "")

		case opp := <-h.opportunities:
			h.fanOutOpportunity(opp)

		case id := <-h.removals:
			data, err := json.Marshal(RemoveMessage{Type: "remove", ID: id})
			if err == nil {
				h.fanOutRaw(data)
			}

		case ev := <-h.statuses:
			data, err := json.Marshal(StatusMessage{Type: "status", Exchange: ev.exchange, Status: ev.status})
			if err == nil {
				h.fanOutRaw(data)
			}

		case st := <-h.stats:
			data, err := json.Marshal(StatsMessage{Type: "stats", Data: st})
			if err == nil {
				h.fanOutRaw(data)
			}

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ============ Вход для агрегатора ============
// Неблокирующая постановка в очередь: при переполненном буфере событие
// теряется, клиент догонит состояние по следующему обновлению пары.

func (h *Hub) BroadcastOpportunity(opp *models.ArbitrageOpportunity) {
	select {
	case h.opportunities <- opp:
	default:
		h.log.Warn("очередь возможностей переполнена, событие отброшено",
			zap.String("id", opp.ID))
	}
}

func (h *Hub) BroadcastRemove(id string) {
	select {
	case h.removals <- id:
	default:
	}
}

func (h *Hub) BroadcastStatus(exchange models.Exchange, status models.ConnectionStatus) {
	select {
	case h.statuses <- statusEvent{exchange: exchange, status: status}:
	default:
	}
}

func (h *Hub) BroadcastStats(stats models.ServerStats) {
	select {
	case h.stats <- stats:
	default:
	}
}

// ============ Фан-аут (только из горутины Run) ============

// sendSnapshot отправляет новому клиенту полное состояние:
// текущие возможности (без стаканов) и статусы всех бирж.
func (h *Hub) sendSnapshot(client *Client) {
	opportunities := h.source.AllOpportunities()
	filtered := make([]*models.ArbitrageOpportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if isGarbage(opp) || !client.matches(opp) {
			continue
		}
		filtered = append(filtered, stripBooks(opp))
	}

	msg := SnapshotMessage{
		Type:          "snapshot",
		Opportunities: filtered,
		Statuses:      h.source.ConnectionStatuses(),
		Timestamp:     time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("сериализация снапшота", zap.Error(err))
		return
	}
	client.trySend(data)
}

// fanOutOpportunity рассылает обновление возможности.
//
// Общий поток получает облегчённую копию без уровней стакана; клиенты,
// подписанные на детали этого id, получают полную. Каждый вариант
// сериализуется не больше одного раза на рассылку.
func (h *Hub) fanOutOpportunity(opp *models.ArbitrageOpportunity) {
	var slimData, fullData []byte
	var toDrop []*Client

	h.mu.RLock()
	for client := range h.clients {
		if client.wantsDetails(opp.ID) {
			if fullData == nil {
				var err error
				fullData, err = json.Marshal(OpportunityMessage{Type: "opportunity", Data: opp})
				if err != nil {
					h.log.Error("сериализация возможности", zap.Error(err))
					break
				}
			}
			if !client.trySend(fullData) {
				toDrop = append(toDrop, client)
			}
			continue
		}

		if isGarbage(opp) || !client.matches(opp) {
			continue
		}
		if slimData == nil {
			var err error
			slimData, err = json.Marshal(OpportunityMessage{Type: "opportunity", Data: stripBooks(opp)})
			if err != nil {
				h.log.Error("сериализация возможности", zap.Error(err))
				break
			}
		}
		if !client.trySend(slimData) {
			toDrop = append(toDrop, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range toDrop {
		h.removeClient(client, "буфер отправки переполнен")
	}
}

func (h *Hub) fanOutRaw(data []byte) {
	var toDrop []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.trySend(data) {
			toDrop = append(toDrop, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range toDrop {
		h.removeClient(client, "буфер отправки переполнен")
	}
}

// removeClient выкидывает клиента из хаба. Медленный клиент не должен
// тормозить рассылку остальным.
func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if reason != "" {
		h.log.Warn("клиент отключён: "+reason,
			zap.String("remote", client.RemoteAddr()),
			zap.Int("total", total))
	} else {
		h.log.Info("клиент отключён",
			zap.String("remote", client.RemoteAddr()),
			zap.Int("total", total))
	}
}

// ClientCount - количество подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func isGarbage(opp *models.ArbitrageOpportunity) bool {
	return opp.NetSpreadBps < garbageNetSpreadBps && opp.Score <= garbageScore
}

// stripBooks возвращает копию возможности без уровней стаканов.
// Полные стаканы идут только подписчикам деталей.
func stripBooks(opp *models.ArbitrageOpportunity) *models.ArbitrageOpportunity {
	slim := *opp
	slim.BuyData.Bids = nil
	slim.BuyData.Asks = nil
	slim.SellData.Bids = nil
	slim.SellData.Asks = nil
	return &slim
}
