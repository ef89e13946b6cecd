package server

import (
	"net/http"

	"nhooyr.io/websocket"

	"github.com/nexuschat/backend/internal/broadcast"
)

// Control events on the subscribe protocol.
const (
	evConnectionEstablished = "connection.established"
	evSubscriptionSucceeded = "subscription.succeeded"
	evSubscriptionDenied    = "subscription.denied"
)

// serveWS handles GET /ws: upgrades the connection, hands it to the hub and
// runs the subscribe protocol. Clients send
// {"action":"subscribe"|"unsubscribe","channel":"room.<id>"|"group.<id>"};
// the hub re-checks membership on every subscribe attempt.
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Errorf("accepting websocket: %v", err)
		return
	}

	client := h.hub.AddClient(userID, conn)
	defer h.hub.RemoveClient(client)

	client.Deliver(broadcast.Event{
		Name: evConnectionEstablished,
		Data: map[string]string{"socket_id": client.SocketID},
	})

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		parser := h.wsParsers.Get()
		v, perr := parser.ParseBytes(data)
		if perr != nil {
			h.wsParsers.Put(parser)
			continue
		}
		action := string(v.GetStringBytes("action"))
		channel := string(v.GetStringBytes("channel"))
		h.wsParsers.Put(parser)

		switch action {
		case "subscribe":
			if err := h.hub.Subscribe(r.Context(), client, channel); err != nil {
				client.Deliver(broadcast.Event{Name: evSubscriptionDenied, Channel: channel})
				continue
			}
			client.Deliver(broadcast.Event{Name: evSubscriptionSucceeded, Channel: channel})
		case "unsubscribe":
			h.hub.Unsubscribe(client, channel)
		}
	}
}
