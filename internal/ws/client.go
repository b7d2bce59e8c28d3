package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// 连接状态机：Connecting → Authenticated → InRoom → Closed。
// 状态只在该连接自己的 readPump goroutine 里变更。
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

// Client 代表一条存活的 websocket 连接。
// id 是连接的临时标识，连接一断即作废；用户身份映射存在注册表里。
type Client struct {
	id     string
	userID uint
	gw     *Gateway
	conn   *websocket.Conn
	send   chan []byte
	room   *RoomHub
	state  ConnState
}

// enqueue 把一条要发给该连接的消息放入发送队列，队列满则丢弃。
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.gw.Disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 16) // 64KB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.gw.HandleMessage(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
