package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// Channel is one client's bidirectional, ordered signaling connection.
//
// Receive blocks for the next inbound text message; ok=false is the
// disconnect signal and is terminal. Send may be called by goroutines other
// than the owner (broadcasting peers); implementations serialize writes.
type Channel interface {
	Send(message []byte) error
	Receive() (message []byte, ok bool)
	Close()
}

// wsChannel adapts a gorilla websocket connection to Channel.
//
// Hardening mirrors the rest of the relay's websocket endpoints: an inbound
// read limit, an idle deadline refreshed by pongs and reads, and a background
// ping loop so half-dead connections are detected instead of lingering.
type wsChannel struct {
	conn *websocket.Conn

	idleTimeout time.Duration

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newWSChannel(conn *websocket.Conn, maxMessageBytes int64, idleTimeout, pingInterval time.Duration) *wsChannel {
	ch := &wsChannel{
		conn:        conn,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}

	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
	if idleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idleTimeout))
		})
	}
	if pingInterval > 0 {
		go ch.pingLoop(pingInterval)
	}

	return ch
}

func (ch *wsChannel) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			ch.writeMu.Lock()
			err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			ch.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (ch *wsChannel) Send(message []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ch.conn.WriteMessage(websocket.TextMessage, message)
}

// Receive returns the next inbound text message. Any read error, including
// an exceeded read limit or idle deadline, is reported as a disconnect; the
// close-code details were already sent by closeWith where applicable.
func (ch *wsChannel) Receive() ([]byte, bool) {
	msgType, data, err := ch.conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	if ch.idleTimeout > 0 {
		_ = ch.conn.SetReadDeadline(time.Now().Add(ch.idleTimeout))
	}
	if msgType != websocket.TextMessage {
		ch.closeWith(websocket.CloseUnsupportedData, "expected text message")
		return nil, false
	}
	return data, true
}

// closeWith sends a close frame with the given code before tearing the
// connection down.
func (ch *wsChannel) closeWith(code int, reason string) {
	ch.writeMu.Lock()
	_ = ch.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	ch.writeMu.Unlock()
	ch.Close()
}

func (ch *wsChannel) Close() {
	ch.closeOnce.Do(func() {
		close(ch.done)
		_ = ch.conn.Close()
	})
}
