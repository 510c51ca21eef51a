package websocket

import (
	"context"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opDeliver
	opSendTo
	opSnapshot
)

// hubOp travels on a single channel so operations from one goroutine are
// applied in the order they were issued (a register always precedes the
// deliveries its connect handler publishes).
type hubOp struct {
	kind     opKind
	client   *Client
	room     string
	audience models.Audience
	frame    []byte
	reply    chan snapshot
}

type snapshot struct {
	clients int
	rooms   int
	users   []models.UserID
}

// Hub is the per-instance table of live connections and their room groups.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	ops     chan hubOp
	done    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		ops:     make(chan hubOp, 1024),
		done:    make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = map[*Client]bool{}
			h.rooms = map[string]map[*Client]bool{}
			logger.Info("[hub] Stopped")
			return

		case op := <-h.ops:
			h.apply(op)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) apply(op hubOp) {
	switch op.kind {
	case opRegister:
		h.clients[op.client] = true
		logger.Debug("[hub] Client %s registered", op.client.ID())

	case opUnregister:
		h.drop(op.client)

	case opJoin:
		if !h.clients[op.client] {
			return
		}
		members, ok := h.rooms[op.room]
		if !ok {
			members = make(map[*Client]bool)
			h.rooms[op.room] = members
		}
		members[op.client] = true
		op.client.rooms[op.room] = true
		logger.Debug("[hub] Client %s joined room %s", op.client.ID(), op.room)

	case opDeliver:
		if op.audience.IsBroadcast() {
			for client := range h.clients {
				h.sendTo(client, op.frame)
			}
			return
		}
		for client := range h.rooms[op.audience.Room] {
			h.sendTo(client, op.frame)
		}

	case opSendTo:
		if h.clients[op.client] {
			h.sendTo(op.client, op.frame)
		}

	case opSnapshot:
		seen := make(map[models.UserID]bool)
		var users []models.UserID
		for client := range h.clients {
			if u := client.User(); u != nil && !seen[u.ID] {
				seen[u.ID] = true
				users = append(users, u.ID)
			}
		}
		op.reply <- snapshot{clients: len(h.clients), rooms: len(h.rooms), users: users}
	}
}

// sendTo never blocks; a client whose buffer is full is dropped.
func (h *Hub) sendTo(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		logger.Warn("[hub] Client %s is not keeping up, dropping it", client.ID())
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for room := range client.rooms {
		if members := h.rooms[room]; members != nil {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(client.send)
	logger.Debug("[hub] Client %s unregistered", client.ID())
}

func (h *Hub) submit(op hubOp) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Register(client *Client) {
	h.submit(hubOp{kind: opRegister, client: client})
}

func (h *Hub) Unregister(client *Client) {
	h.submit(hubOp{kind: opUnregister, client: client})
}

// JoinRoom adds the connection to a room's local delivery group.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.submit(hubOp{kind: opJoin, client: client, room: roomID})
}

// Deliver queues frame for every local connection in the audience.
func (h *Hub) Deliver(audience models.Audience, frame []byte) {
	h.submit(hubOp{kind: opDeliver, audience: audience, frame: frame})
}

// SendTo queues frame for a single connection.
func (h *Hub) SendTo(client *Client, frame []byte) {
	h.submit(hubOp{kind: opSendTo, client: client, frame: frame})
}

func (h *Hub) snapshot() snapshot {
	reply := make(chan snapshot, 1)
	if !h.submit(hubOp{kind: opSnapshot, reply: reply}) {
		return snapshot{}
	}
	select {
	case s := <-reply:
		return s
	case <-h.done:
		return snapshot{}
	}
}

func (h *Hub) ClientCount() int {
	return h.snapshot().clients
}

func (h *Hub) RoomCount() int {
	return h.snapshot().rooms
}

// ConnectedUsers lists the distinct identities with a live local connection.
func (h *Hub) ConnectedUsers() []models.UserID {
	return h.snapshot().users
}
