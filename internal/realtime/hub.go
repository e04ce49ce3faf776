// Package realtime pushes call lifecycle events to connected users and
// executives over websockets and carries their call actions back into the
// engine.
package realtime

import (
	"encoding/json"
	"log/slog"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
)

// PresenceSink observes a party's first connection, last disconnection,
// and liveness touches in between.
type PresenceSink interface {
	Connected(kind auth.ActorKind, id string)
	Disconnected(kind auth.ActorKind, id string)
	Touch(kind auth.ActorKind, id string)
}

type nopPresence struct{}

func (nopPresence) Connected(auth.ActorKind, string)    {}
func (nopPresence) Disconnected(auth.ActorKind, string) {}
func (nopPresence) Touch(auth.ActorKind, string)        {}

type outbound struct {
	group   string
	payload []byte
}

// Hub fans call events out to connected clients, grouped per actor. One
// actor may hold several connections (phone plus browser); every connection
// in the group gets every event.
//
// Hub implements the engine's Notifier.
// EventPresence carries executive roster changes to status subscribers.
const EventPresence calls.EventType = "presence"

// statusGroup is the shared roster feed any connected actor may subscribe
// to.
const statusGroup = "status"

type Hub struct {
	register   chan *Client
	unregister chan *Client
	subscribe  chan *Client
	send       chan outbound
	quit       chan struct{}

	groups   map[string]map[*Client]bool
	presence PresenceSink
	log      *slog.Logger
}

func NewHub(presence PresenceSink, log *slog.Logger) *Hub {
	if presence == nil {
		presence = nopPresence{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan *Client),
		send:       make(chan outbound, 256),
		quit:       make(chan struct{}),
		groups:     make(map[string]map[*Client]bool),
		presence:   presence,
		log:        log,
	}
}

func groupKey(kind auth.ActorKind, id string) string { return string(kind) + ":" + id }

func (h *Hub) NotifyUser(userID string, ev calls.Event) {
	h.push(groupKey(auth.ActorKindUser, userID), ev)
}

func (h *Hub) NotifyExecutive(executiveID string, ev calls.Event) {
	h.push(groupKey(auth.ActorKindExecutive, executiveID), ev)
}

func (h *Hub) push(group string, ev calls.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("event marshal failed", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.send <- outbound{group: group, payload: payload}:
	default:
		h.log.Warn("outbound queue full, dropping event", "group", group, "type", ev.Type)
	}
}

// Run owns the group map; all membership changes and deliveries serialize
// through this loop. Blocks until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for _, group := range h.groups {
				for c := range group {
					c.close()
				}
			}
			h.groups = make(map[string]map[*Client]bool)
			return

		case c := <-h.register:
			key := groupKey(c.actor.Kind, c.actor.ID)
			if h.groups[key] == nil {
				h.groups[key] = make(map[*Client]bool)
				h.presence.Connected(c.actor.Kind, c.actor.ID)
				h.broadcastPresence(c.actor, "online")
			}
			h.groups[key][c] = true
			h.log.Info("client connected", "actor_kind", c.actor.Kind, "actor_id", c.actor.ID)

		case c := <-h.subscribe:
			if h.groups[statusGroup] == nil {
				h.groups[statusGroup] = make(map[*Client]bool)
			}
			h.groups[statusGroup][c] = true

		case c := <-h.unregister:
			if sub, ok := h.groups[statusGroup]; ok {
				delete(sub, c)
				if len(sub) == 0 {
					delete(h.groups, statusGroup)
				}
			}
			key := groupKey(c.actor.Kind, c.actor.ID)
			if group, ok := h.groups[key]; ok && group[c] {
				delete(group, c)
				c.close()
				if len(group) == 0 {
					delete(h.groups, key)
					h.presence.Disconnected(c.actor.Kind, c.actor.ID)
					h.broadcastPresence(c.actor, "offline")
				}
				h.log.Info("client disconnected", "actor_kind", c.actor.Kind, "actor_id", c.actor.ID)
			}

		case out := <-h.send:
			for c := range h.groups[out.group] {
				if !c.enqueue(out.payload) {
					// Slow consumer; drop the connection rather than stall
					// the loop.
					delete(h.groups[out.group], c)
					c.close()
				}
			}
		}
	}
}

// broadcastPresence fans an executive roster change out to the status
// group. User connectivity is not part of the roster.
func (h *Hub) broadcastPresence(actor auth.Actor, state string) {
	if !actor.IsExecutive() {
		return
	}
	h.push(statusGroup, calls.Event{
		Type:    EventPresence,
		Payload: map[string]any{"executive_id": actor.ID, "state": state},
	})
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// SubscribeStatus adds a connected client to the shared roster feed.
func (h *Hub) SubscribeStatus(c *Client) { h.subscribe <- c }

// TouchPresence extends the actor's presence lease. Safe from any
// goroutine; it never enters the Run loop.
func (h *Hub) TouchPresence(a auth.Actor) { h.presence.Touch(a.Kind, a.ID) }

func (h *Hub) Stop() { close(h.quit) }
