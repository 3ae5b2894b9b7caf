package bus

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Wire frames.  See also the client frames at the bottom.

type serverFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type broadcastFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type bridgeCallFrame struct {
	CallID string        `json:"callId"`
	API    string        `json:"api"`
	Args   []interface{} `json:"args,omitempty"`
}

type clientFrame struct {
	Type    string             `json:"type"`
	Channel string             `json:"channel,omitempty"`
	Payload *callResponseFrame `json:"payload,omitempty"`
}

type callResponseFrame struct {
	CallID string      `json:"callId"`
	Result interface{} `json:"result"`
}

// client is one connected WebSocket peer.  Outbound frames go through
// a buffered channel serviced by a single writer goroutine, since
// gorilla connections don't allow concurrent writers.
type client struct {
	id   string
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
}

func (cl *client) deliver(frame interface{}) {
	select {
	case cl.send <- frame:
	case <-cl.done:
	default:
		log.Printf("Bus client %s send buffer full; frame dropped", cl.id)
	}
}

func (cl *client) close() {
	cl.conn.Close()
}

var upgrader = websocket.Upgrader{
	// The engine fronts its own UI; cross-origin policy is the
	// embedding server's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the WebSocket endpoint.  On connect it assigns the
// client an identifier and sends it down as the first frame.
func (b *Bus) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Bus upgrade error", err)
			return
		}
		defer conn.Close()

		cl := &client{
			id:   ulid.Make().String(),
			conn: conn,
			send: make(chan interface{}, 32),
			done: make(chan struct{}),
		}
		b.register(cl)
		defer b.disconnect(cl.id)
		defer close(cl.done)

		go func() {
			for {
				select {
				case <-cl.done:
					return
				case x := <-cl.send:
					js, err := json.Marshal(&x)
					if err != nil {
						log.Printf("Bus marshal error %v on %#v", err, x)
						continue
					}
					if err := conn.WriteMessage(websocket.TextMessage, js); err != nil {
						log.Println("Bus write error", err)
						return
					}
				}
			}
		}()

		cl.deliver(serverFrame{Type: "socket_id_assigned", ID: cl.id})

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				b.logf("client %s read: %v", cl.id, err)
				return
			}

			var frame clientFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				b.logf("client %s sent unparsable frame: %v", cl.id, err)
				continue
			}

			switch frame.Type {
			case "subscribe":
				b.Subscribe(cl.id, frame.Channel)
			case "bridge_call_response":
				if frame.Payload == nil {
					b.logf("client %s sent bridge response without payload", cl.id)
					continue
				}
				b.resolve(frame.Payload.CallID, frame.Payload.Result)
			default:
				b.logf("client %s sent unknown frame type %q", cl.id, frame.Type)
			}
		}
	}
}
