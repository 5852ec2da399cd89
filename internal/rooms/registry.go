package rooms

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roomwire/roomwire/internal/metrics"
)

// Sender is the outbound half of a member's signaling connection.
//
// Implementations must be safe for use by goroutines other than their owner:
// the registry hands Sender references to broadcasting peers for single sends.
type Sender interface {
	Send(message []byte) error
	Close()
}

// Registry maps room IDs to their current members' Senders.
//
// Rooms are created implicitly on first join and deleted when the last member
// leaves; an empty room never exists in the map.
type Registry struct {
	log *slog.Logger
	m   *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]map[string]Sender
}

func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		log:   logger,
		m:     m,
		rooms: make(map[string]map[string]Sender),
	}
}

// Join registers clientID under roomID and returns the IDs of the members
// that were present at the instant of registration, sorted for determinism.
//
// The snapshot and the insert happen under the same lock acquisition, so the
// returned list can never omit a member whose own Join had already returned,
// and can never include a member that has already left.
//
// A second Join with the same clientID replaces the prior mapping; the
// displaced Sender is returned so the caller can close it.
func (r *Registry) Join(roomID, clientID string, s Sender) (existing []string, prev Sender) {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Sender)
		r.rooms[roomID] = members
		r.m.Inc(metrics.RoomCreated)
	}
	for id := range members {
		if id != clientID {
			existing = append(existing, id)
		}
	}
	prev = members[clientID]
	members[clientID] = s
	r.mu.Unlock()

	sort.Strings(existing)
	r.m.Inc(metrics.ClientJoined)
	r.log.Debug("client joined room", "room", roomID, "client", clientID, "peers", len(existing))
	return existing, prev
}

// Leave removes clientID from roomID and deletes the room if it became
// empty. It reports whether a membership was actually removed; calling it for
// an absent room or client is a no-op, not an error.
func (r *Registry) Leave(roomID, clientID string) bool {
	return r.leave(roomID, clientID, nil)
}

// LeaveSender removes clientID from roomID only while the room still maps
// that ID to s. A connection superseded by a reconnect under the same client
// ID must not evict its replacement during its own cleanup.
func (r *Registry) LeaveSender(roomID, clientID string, s Sender) bool {
	return r.leave(roomID, clientID, s)
}

func (r *Registry) leave(roomID, clientID string, match Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	current, ok := members[clientID]
	if !ok {
		return false
	}
	if match != nil && current != match {
		return false
	}

	delete(members, clientID)
	r.m.Inc(metrics.ClientLeft)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		r.m.Inc(metrics.RoomDeleted)
		r.log.Debug("room deleted", "room", roomID)
	}
	return true
}

// Lookup returns the Sender currently registered for clientID in roomID.
func (r *Registry) Lookup(roomID, clientID string) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[roomID][clientID]
	return s, ok
}

// SendTo delivers message to a single member. It reports false when the
// target is not currently in the room; signaling is best effort and a missing
// target is not an error (the peer may have left mid-handshake).
func (r *Registry) SendTo(roomID, targetID string, message []byte) bool {
	r.mu.Lock()
	target, ok := r.rooms[roomID][targetID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := target.Send(message); err != nil {
		r.m.Inc(metrics.SendFailure)
		r.log.Debug("direct send failed", "room", roomID, "target", targetID, "err", err)
		return false
	}
	return true
}

// BroadcastExcept delivers message to every member of roomID except
// senderID. Membership is copied under the lock and sends run against the
// copy, so joins and leaves that race with delivery are not observed
// mid-iteration. A failed send to one recipient does not abort the rest.
func (r *Registry) BroadcastExcept(roomID, senderID string, message []byte) {
	r.mu.Lock()
	members := r.rooms[roomID]
	recipients := make(map[string]Sender, len(members))
	for id, s := range members {
		if id != senderID {
			recipients[id] = s
		}
	}
	r.mu.Unlock()

	for id, s := range recipients {
		if err := s.Send(message); err != nil {
			r.m.Inc(metrics.SendFailure)
			r.log.Debug("broadcast send failed", "room", roomID, "recipient", id, "err", err)
		}
	}
}

// Members returns the sorted member IDs of roomID, or nil when the room does
// not exist.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// RoomCount returns the number of rooms that currently have members.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
