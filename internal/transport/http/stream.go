package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/legalario/txn-service/internal/ws"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamHandler upgrades the connection, registers it with the hub for
// broadcasts, and answers "ping" text frames with "pong" until the
// client goes away.
func streamHandler(hub *ws.Hub, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnf("ws upgrade: %v", err)
			return
		}
		client := ws.NewClient(conn)
		hub.Register(client)
		defer func() {
			hub.Unregister(client)
			_ = client.Close()
		}()

		for {
			msg, err := client.ReadText()
			if err != nil {
				return
			}
			if msg == "ping" {
				if err := client.WriteText("pong"); err != nil {
					return
				}
			}
		}
	}
}
