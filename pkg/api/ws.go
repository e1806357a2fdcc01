package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from another origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope wraps every frame pushed to a client.
type wsEnvelope struct {
	Type  string       `json:"type"`
	Event *types.Event `json:"event,omitempty"`
	Kind  string       `json:"kind,omitempty"`
	Msg   string       `json:"message,omitempty"`
}

// handleWebsocket streams store events to the client. A client that cannot
// keep up is disconnected and resyncs over /api/events?from=<id>.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()
	defer conn.Close()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	// send serializes writes: the event pump and the reader's pong replies
	// share the connection.
	send := make(chan wsEnvelope, wsSendBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			switch string(payload) {
			case "ping":
				select {
				case send <- wsEnvelope{Type: "pong"}:
				default:
				}
			default:
				// Per-message errors keep the socket open.
				select {
				case send <- wsEnvelope{Type: "error", Kind: "bad_request", Msg: "unrecognized message"}:
				default:
				}
			}
		}
	}()

	var lastID uint64
	for {
		select {
		case <-done:
			return
		case env := <-send:
			if !s.wsWrite(conn, env) {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			// Store ids are contiguous, so a jump means the broker dropped
			// events while this client lagged. Tell it where to resync and
			// disconnect rather than stream a silent hole.
			if lastID != 0 && ev.ID > lastID+1 {
				s.logger.Debug().Uint64("last_id", lastID).Uint64("next_id", ev.ID).Msg("websocket client lagged, disconnecting")
				_ = s.wsWrite(conn, wsEnvelope{
					Type: "gap",
					Kind: "resync_required",
					Msg:  "events dropped, resync via /api/events?from=" + strconv.FormatUint(lastID+1, 10),
				})
				return
			}
			lastID = ev.ID
			if !s.wsWrite(conn, wsEnvelope{Type: "new_event", Event: &ev}) {
				return
			}
		}
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, env wsEnvelope) bool {
	// "pong" goes out as a bare string for dashboard compatibility.
	var payload []byte
	if env.Type == "pong" {
		payload = []byte(`"pong"`)
	} else {
		var err error
		payload, err = json.Marshal(env)
		if err != nil {
			return true
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed, dropping client")
		return false
	}
	return true
}
