package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/UlleongUlleong/server-sub000/internal/metrics"
)

// Hub 管理房间级别的广播组，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[uint]*RoomHub)} }

// GetRoom 若广播组未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// RoomHub 是单个房间的广播组。成员变更与广播都经由同一个
// goroutine 串行处理，因此同一房间内事件对所有成员的投递顺序
// 与网关接受动作的顺序一致。
type RoomHub struct {
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewRoomHub(roomID uint) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			// 加入事件广播给包括加入者在内的所有成员
			evt := map[string]interface{}{"event": EventUserJoined, "roomId": rh.roomID, "userId": c.userID}
			if b, err := json.Marshal(evt); err == nil {
				metrics.RoomBroadcastsTotal.WithLabelValues(EventUserJoined).Inc()
				rh.fanout(b)
			}
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				evt := map[string]interface{}{"event": EventUserLeft, "roomId": rh.roomID, "userId": c.userID}
				if b, err := json.Marshal(evt); err == nil {
					metrics.RoomBroadcastsTotal.WithLabelValues(EventUserLeft).Inc()
					rh.fanout(b)
				}
			}
		case msg := <-rh.broadcast:
			rh.fanout(msg)
		}
	}
}

// fanout 把消息投递给组内所有成员。消费过慢的连接丢弃该条消息，
// 但不在这里关闭它：连接生命周期归断连路径管。
func (rh *RoomHub) fanout(msg []byte) {
	for c := range rh.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
