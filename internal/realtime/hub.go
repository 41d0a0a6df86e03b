package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"order-hub/internal/metrics"
)

// Hub tracks live connections and their room memberships and delivers events
// to the members of a room on this process.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // sessionID -> connection
	rooms        map[string]map[string]*Connection // room -> sessionID -> connection
	sessionRooms map[string]map[string]struct{}    // sessionID -> set of rooms

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type eventFrame struct {
	Type string `json:"type"`
	Event
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		sessions:     make(map[string]*Connection),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
		logger:       logger.With("component", "hub"),
		metrics:      m,
	}
}

// Attach registers conn, starts its write loop and joins it to its tenant room.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.sessions[conn.ID] = conn
	h.sessionRooms[conn.ID] = make(map[string]struct{})
	h.joinLocked(TenantRoom(conn.Identity.TenantID), conn)
	h.mu.Unlock()

	conn.Start()
	if h.metrics != nil {
		h.metrics.RealtimeConnections.Inc()
	}
}

// Detach removes conn and all of its memberships if it is still tracked.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	_, tracked := h.sessions[conn.ID]
	h.detachLocked(conn.ID)
	h.mu.Unlock()

	if tracked && h.metrics != nil {
		h.metrics.RealtimeConnections.Dec()
	}
}

// Join adds conn to room. Joining twice is a no-op.
func (h *Hub) Join(room string, conn *Connection) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID]; ok {
		h.joinLocked(room, conn)
	}
	h.mu.Unlock()
}

// Leave removes conn from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(room string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// IsMember reports whether conn has joined room.
func (h *Hub) IsMember(room string, conn *Connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessionRooms[conn.ID][room]
	return ok
}

// Deliver implements Transport.
func (h *Hub) Deliver(evt Event) {
	h.Broadcast(evt)
}

// Broadcast writes evt to every member of its room and returns how many
// connections accepted it.
func (h *Hub) Broadcast(evt Event) int {
	payload, err := json.Marshal(eventFrame{Type: "event", Event: evt})
	if err != nil {
		h.logger.Error("encode event frame", "event", evt.Name, "error", err)
		return 0
	}

	h.mu.RLock()
	room := h.rooms[evt.Room]
	targets := make([]*Connection, 0, len(room))
	for _, conn := range room {
		if evt.ExcludeUser != "" && conn.Identity.UserID == evt.ExcludeUser {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		sessions = append(sessions, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.sessionRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "hub shutdown")
		if h.metrics != nil {
			h.metrics.RealtimeConnections.Dec()
		}
	}
}

func (h *Hub) joinLocked(room string, conn *Connection) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	memberships := h.sessionRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.sessionRooms[conn.ID] = memberships
	}
	memberships[room] = struct{}{}
}

func (h *Hub) detachLocked(sessionID string) {
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	delete(h.sessions, sessionID)
	for room := range h.sessionRooms[sessionID] {
		h.leaveLocked(room, sessionID)
	}
	delete(h.sessionRooms, sessionID)
}

func (h *Hub) leaveLocked(room, sessionID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if memberships, ok := h.sessionRooms[sessionID]; ok {
		delete(memberships, room)
	}
}
