package room

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tush00nka/bbbab_sync/internal/model"
)

// Константы
const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 64 * 1024 // 64KB
	maxSendChannelSize = 256
)

// Conn WebSocket-соединение с сервером комнат
type Conn struct {
	ctx      context.Context
	cancel   context.CancelFunc
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.RWMutex
	isClosed bool
}

// Dial подключается к серверу комнат
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Bearer", token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Conn{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		send:   make(chan []byte, maxSendChannelSize),
	}, nil
}

// ReadPump читает события от сервера и отдает их обработчику.
// Некорректный JSON пропускается с логом, соединение не рвем.
func (c *Conn) ReadPump(handle func(model.Event)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure) {
					log.Printf("room: read error: %v", err)
				}
				return
			}

			var ev model.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("room: malformed event dropped: %v", err)
				continue
			}

			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}

			handle(ev)
		}
	}
}

// WritePump отправляет события серверу и держит соединение пингами
func (c *Conn) WritePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return err
			}

			if _, err := w.Write(message); err != nil {
				return err
			}

			// Добираем накопившиеся сообщения в один фрейм
			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write(<-c.send); err != nil {
					return err
				}
			}

			if err := w.Close(); err != nil {
				return err
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// SendJSON отправляет JSON-событие
func (c *Conn) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("room: marshal error: %v", err)
		return false
	}

	return c.SendRaw(data)
}

// SendRaw отправляет сырые данные; при переполнении буфера
// сообщение пропускается (сигналы fire-and-forget)
func (c *Conn) SendRaw(data []byte) bool {
	c.mu.RLock()
	if c.isClosed {
		c.mu.RUnlock()
		return false
	}

	select {
	case c.send <- data:
		c.mu.RUnlock()
		return true
	default:
		c.mu.RUnlock()
		return false
	}
}

// Close закрывает соединение
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return
	}

	c.isClosed = true
	c.cancel()
	close(c.send)
	c.conn.Close()
}

// IsClosed проверяет, закрыто ли соединение
func (c *Conn) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isClosed
}
