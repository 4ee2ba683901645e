package collab

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/coderev/internal/model"
)

const (
	// ピアへの書き込み許容時間
	writeWait = 10 * time.Second

	// 次のpong受信までの許容時間
	pongWait = 60 * time.Second

	// ping送信間隔。pongWaitより短くすること。
	pingPeriod = (pongWait * 9) / 10

	// ピアから受け付ける最大メッセージサイズ
	maxMessageSize = 1 << 20

	// 送信チャンネルのバッファ数。溢れた場合はフレームを破棄する。
	sendBufferSize = 256
)

// Client は1本のWebSocket接続を表す。
// Userはハンドシェイク時に1回検証されたスナップショットで、以後イミュータブル。
// sessionは現在参加中のセッションID（最大1つ）で、Hubのロック下でのみ読み書きする。
type Client struct {
	ID   string
	User model.UserSnapshot

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// 以下はhub.muの保護下でのみアクセスする
	session string
	closed  bool
}

// NewClient は接続済みWebSocketからClientを生成する。
func NewClient(hub *Hub, conn *websocket.Conn, user model.UserSnapshot) *Client {
	return &Client{
		ID:   uuid.NewString(),
		User: user,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// ReadPump は接続からのフレームを読み取りHubに渡す。
// 接続ごとに1 goroutineで実行する。リターン時に必ずDisconnectを1回実行する。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error",
					slog.String("conn_id", c.ID),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		c.hub.HandleMessage(c, message)
	}
}

// WritePump は送信チャンネルのフレームを接続に書き込み、定期的にpingを送る。
// 接続ごとに1 goroutineで実行する。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hubがチャンネルを閉じた
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend はフレームを送信チャンネルに積む。
// バッファが溢れている場合はブロードキャスト全体を止めないためフレームを破棄する。
func (c *Client) trySend(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
