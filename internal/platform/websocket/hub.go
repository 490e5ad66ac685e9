// Package websocket relays signalling messages between the participants of
// a teleconsultation room. The hub knows nothing about media: it forwards SDP
// offers, answers and ICE candidates from one peer to the others.
package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChat         = "chat"
	TypeHangup       = "hangup"

	// Sent by the hub.
	TypeWelcome    = "welcome"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeRoomClosed = "room-closed"
)

var relayable = map[string]bool{
	TypeOffer: true, TypeAnswer: true, TypeICECandidate: true, TypeChat: true, TypeHangup: true,
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// ErrRoomFull is returned by Join when the room has reached its capacity.
var ErrRoomFull = errors.New("room is full")

// Message is the envelope exchanged over the socket. To addresses a single
// peer; when empty the message goes to every other peer in the room.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Role    string          `json:"role,omitempty"`
	To      string          `json:"to,omitempty"`
	Peers   []string        `json:"peers,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is one connected participant.
type Client struct {
	ID   string
	Room string
	Role string
	Send chan []byte
}

// NewClient returns a client with a fresh ID and send buffer.
func NewClient(room, role string) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Room: room,
		Role: role,
		Send: make(chan []byte, sendBuffer),
	}
}

type Options struct {
	MaxPerRoom     int
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Hub tracks the clients of every room. All operations are safe for
// concurrent use.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	max      int
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

func NewHub(opts Options) *Hub {
	if opts.MaxPerRoom <= 0 {
		opts.MaxPerRoom = 4
	}
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		max:    opts.MaxPerRoom,
		logger: opts.Logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if len(opts.AllowedOrigins) > 0 {
		allowed := make(map[string]bool, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	return h
}

// Join adds the client to its room and announces it to the other peers.
func (h *Hub) Join(c *Client) error {
	h.mu.Lock()
	peers := h.rooms[c.Room]
	if len(peers) >= h.max {
		h.mu.Unlock()
		return ErrRoomFull
	}
	if peers == nil {
		peers = make(map[*Client]struct{})
		h.rooms[c.Room] = peers
	}
	ids := make([]string, 0, len(peers))
	for p := range peers {
		ids = append(ids, p.ID)
	}
	peers[c] = struct{}{}
	h.mu.Unlock()

	h.deliver(c, Message{Type: TypeWelcome, From: c.ID, Role: c.Role, Peers: ids})
	h.Relay(c, Message{Type: TypePeerJoined})
	return nil
}

// Leave removes the client, closes its send channel and tells the remaining
// peers. Leaving twice is a no-op.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	peers, ok := h.rooms[c.Room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := peers[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.rooms, c.Room)
	}
	close(c.Send)
	h.mu.Unlock()

	h.Relay(c, Message{Type: TypePeerLeft})
}

// Relay stamps msg with the sender and forwards it within the sender's room.
// Slow receivers whose buffer is full miss the message.
func (h *Hub) Relay(from *Client, msg Message) {
	msg.From = from.ID
	msg.Role = from.Role
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket: marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for peer := range h.rooms[from.Room] {
		if peer == from || (msg.To != "" && peer.ID != msg.To) {
			continue
		}
		select {
		case peer.Send <- data:
		default:
			h.logger.Warn().Str("room", from.Room).Str("peer", peer.ID).Msg("websocket: dropping message for slow peer")
		}
	}
}

func (h *Hub) deliver(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[c.Room][c]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// CloseRoom tells every peer the room is closed and disconnects them.
func (h *Hub) CloseRoom(room string) {
	data, _ := json.Marshal(Message{Type: TypeRoomClosed})

	h.mu.Lock()
	peers := h.rooms[room]
	delete(h.rooms, room)
	h.mu.Unlock()

	for c := range peers {
		select {
		case c.Send <- data:
		default:
		}
		close(c.Send)
	}
}

// RoomSize returns the number of clients connected to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomCount returns the number of rooms with at least one client.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// HandleInbound validates a raw client frame and relays it.
func (h *Hub) HandleInbound(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !relayable[msg.Type] {
		return
	}
	h.Relay(c, msg)
}

// Serve upgrades the request and runs the client until either side closes.
// The caller has already authorised the participant for room.
func (h *Hub) Serve(c echo.Context, room, role string) error {
	h.mu.RLock()
	full := len(h.rooms[room]) >= h.max
	h.mu.RUnlock()
	if full {
		return echo.NewHTTPError(http.StatusConflict, ErrRoomFull.Error())
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		return nil
	}

	client := NewClient(room, role)
	if err := h.Join(client); err != nil {
		ws.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		ws.Close()
		return nil
	}
	h.logger.Info().Str("room", room).Str("peer", client.ID).Str("role", role).Msg("websocket: peer joined")

	go h.writePump(client, ws)
	h.readPump(client, ws)
	return nil
}

func (h *Hub) readPump(c *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.Leave(c)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.HandleInbound(c, raw)
	}
}

func (h *Hub) writePump(c *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
