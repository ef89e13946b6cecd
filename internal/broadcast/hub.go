// Package broadcast fans state-change events out to subscribers of named
// channels. Delivery is best effort: the state change committed to the store
// is the source of truth, and a failed or dropped delivery never propagates
// back to the mutation that triggered it.
package broadcast

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	ErrBadChannel   = errors.New("malformed channel name")
	ErrUnauthorized = errors.New("subscription not authorized")
)

// Event is the wire shape pushed to subscribers.
type Event struct {
	Name    string      `json:"event"`
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// AuthorizeFunc decides whether the user currently may listen on the channel.
// The hub consults it on every subscribe attempt, never caching the answer,
// because membership changes over a conversation's life.
type AuthorizeFunc func(ctx context.Context, userID int64, channel string) bool

// Client is one connected subscriber. SocketID identifies the connection so
// an originating client can be excluded from deliveries of its own actions.
type Client struct {
	SocketID string
	UserID   int64

	conn *websocket.Conn
	send chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Events exposes the delivery channel, used by the transport write loop and
// by tests.
func (c *Client) Events() <-chan Event {
	return c.send
}

// Deliver enqueues an event for this client only, dropping it when the
// buffer is full. Used for control replies on the subscribe protocol.
func (c *Client) Deliver(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

type Hub struct {
	logger    *zap.SugaredLogger
	authorize AuthorizeFunc

	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[*Client]map[string]struct{}
}

func NewHub(logger *zap.SugaredLogger, authorize AuthorizeFunc) *Hub {
	return &Hub{
		logger:    logger,
		authorize: authorize,
		channels:  map[string]map[*Client]struct{}{},
		clients:   map[*Client]map[string]struct{}{},
	}
}

// AddClient registers a connection for the user and starts its write and
// keep-alive loops. A nil conn registers a loopless client whose events are
// consumed through Events directly.
func (h *Hub) AddClient(userID int64, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		SocketID: xid.New().String(),
		UserID:   userID,
		conn:     conn,
		send:     make(chan Event, 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.mu.Lock()
	h.clients[c] = map[string]struct{}{}
	h.mu.Unlock()

	if conn != nil {
		go c.writeLoop()
		go c.keepAliveLoop()
	}

	h.logger.Debugf("Registered socket %s for user (id: %d)", c.SocketID, userID)

	return c
}

// RemoveClient drops the client from every channel and closes its connection.
func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	for channel := range h.clients[c] {
		delete(h.channels[channel], c)
		if len(h.channels[channel]) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(h.clients, c)
	h.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// Subscribe attaches the client to the channel after re-checking the client's
// current membership through the authorize callback.
func (h *Hub) Subscribe(ctx context.Context, c *Client, channel string) error {
	if _, _, err := ParseChannel(channel); err != nil {
		return err
	}

	if !h.authorize(ctx, c.UserID, channel) {
		return ErrUnauthorized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return ErrUnauthorized
	}
	if h.channels[channel] == nil {
		h.channels[channel] = map[*Client]struct{}{}
	}
	h.channels[channel][c] = struct{}{}
	h.clients[c][channel] = struct{}{}

	return nil
}

// Unsubscribe detaches the client from the channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.channels[channel], c)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	delete(h.clients[c], channel)
}

// Publish delivers the event to every subscriber of its channel except the
// connection identified by excludeSocketID. Slow subscribers with a full
// buffer are skipped; the drop is logged and the caller is never failed.
func (h *Hub) Publish(ev Event, excludeSocketID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.channels[ev.Channel] {
		if excludeSocketID != "" && c.SocketID == excludeSocketID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.logger.Warnf("Dropping event %s for slow socket %s on channel %s", ev.Name, c.SocketID, ev.Channel)
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, c.conn, ev)
			cancel()
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// RoomChannel names the broadcast topic for a direct conversation.
func RoomChannel(roomID int64) string {
	return "room." + strconv.FormatInt(roomID, 10)
}

// GroupChannel names the broadcast topic for a group.
func GroupChannel(groupID int64) string {
	return "group." + strconv.FormatInt(groupID, 10)
}

// ParseChannel splits a channel name into its kind ("room" or "group") and
// the parent id.
func ParseChannel(channel string) (kind string, id int64, err error) {
	kind, rawID, found := strings.Cut(channel, ".")
	if !found || (kind != "room" && kind != "group") {
		return "", 0, ErrBadChannel
	}

	id, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		return "", 0, ErrBadChannel
	}

	return kind, id, nil
}
