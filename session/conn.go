package session

import (
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport seam. The engines never touch it directly;
// only the participant pumps do.
type Conn interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
	Close(reason string)
}

type WebsocketConn struct {
	socket *websocket.Conn
}

func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		return nil
	})
	return &WebsocketConn{socket: conn}
}

func (wc *WebsocketConn) Write(data []byte) error {
	return wc.socket.WriteMessage(websocket.TextMessage, data)
}

func (wc *WebsocketConn) Ping() error {
	return wc.socket.WriteMessage(websocket.PingMessage, nil)
}

func (wc *WebsocketConn) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

// Close may run while the write pump is mid-frame, so the close frame
// goes over the control channel, which gorilla allows concurrently
// with WriteMessage.
func (wc *WebsocketConn) Close(reason string) {
	wc.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second*20))
	wc.socket.Close()
}
