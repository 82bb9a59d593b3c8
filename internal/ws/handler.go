package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/operator"
	"github.com/DoyleJ11/coder-combat/internal/types"
)

// Handler streams a snapshot of the tournament view to the client after
// every committed operator command. The feed is read-only.
func Handler(op *operator.Operator, origins []string, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan operator.Snapshot, 8)
		clientID := randID()
		log.Debug("watcher joined", zap.String("client", clientID))

		op.Inbox() <- operator.Join{ClientID: clientID, Outbox: out}
		defer func() { op.Inbox() <- operator.Leave{ClientID: clientID} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// the operator dropped us or shut down
						conn.Close(websocket.StatusGoingAway, "feed closed")
						return
					}
					if err := write(writeCtx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, View: &snap.View}); err != nil {
						log.Debug("write failed", zap.String("client", clientID), zap.Error(err))
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("watcher left", zap.String("client", clientID), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			switch cm.Type {
			case "GetState":
				v, err := op.State(r.Context())
				if err != nil {
					return
				}
				_ = write(r.Context(), conn, types.ServerMessage{Type: "StateSnapshot", Version: v.Version, View: &v.View})
			default:
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func randID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
