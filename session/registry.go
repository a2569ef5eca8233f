package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomKind tags what engine drains a room's inbox.
type RoomKind string

const (
	KindCanvas RoomKind = "canvas"
	KindGame   RoomKind = "game"
)

type room struct {
	id       string
	kind     RoomKind
	inbox    chan<- Envelope
	onEmpty  func()
	seats    []*Participant // join order
	byUser   map[string]*Participant
	teardown *time.Timer
	closed   bool
}

// Registry is the process-wide room and presence table. It does pure
// bookkeeping: engines own room state, the fabric owns delivery, the
// registry only tracks who is attached where.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*room
	idleTimeout time.Duration
	log         zerolog.Logger
}

func NewRegistry(idleTimeout time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// EnsureRoom registers a room if it does not exist yet. onEmpty fires
// once the room has been empty for the idle grace period; the owning
// service uses it to stop the engine and flush state.
func (r *Registry) EnsureRoom(roomID string, kind RoomKind, inbox chan<- Envelope, onEmpty func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; ok {
		return
	}
	r.rooms[roomID] = &room{
		id:      roomID,
		kind:    kind,
		inbox:   inbox,
		onEmpty: onEmpty,
		byUser:  make(map[string]*Participant),
	}
	r.log.Info().Str("room_id", roomID).Str("kind", string(kind)).Msg("room registered")
}

// RoomKind reports whether the room exists and what kind it is.
func (r *Registry) RoomKind(roomID string) (RoomKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	return rm.kind, true
}

// Attach binds a connection to a room and returns the live handle.
// Attaching a user who is already present replaces the stale handle in
// the same seat, so a reconnect never duplicates presence.
func (r *Registry) Attach(roomID, userID, displayName string, conn Conn) (*Participant, error) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok || rm.closed {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if rm.teardown != nil {
		rm.teardown.Stop()
		rm.teardown = nil
	}

	p := newParticipant(roomID, userID, displayName, conn, rm.inbox, r.log)
	var stale *Participant
	if old, present := rm.byUser[userID]; present {
		stale = old
		for i, seat := range rm.seats {
			if seat == old {
				rm.seats[i] = p
				break
			}
		}
	} else {
		rm.seats = append(rm.seats, p)
	}
	rm.byUser[userID] = p
	r.mu.Unlock()

	if stale != nil {
		stale.closeTransport("replaced by reconnect")
	}
	return p, nil
}

// Detach removes a handle from its room. It is a no-op if the handle
// was already replaced by a reconnect, which is how a stale read pump
// exiting after a reconnect avoids evicting the fresh connection.
// Returns true when the handle was the live one.
func (r *Registry) Detach(p *Participant) bool {
	r.mu.Lock()
	rm, ok := r.rooms[p.RoomID]
	if !ok {
		r.mu.Unlock()
		p.closeTransport("room gone")
		return false
	}
	current, present := rm.byUser[p.UserID]
	if !present || current.Handle != p.Handle {
		r.mu.Unlock()
		p.closeTransport("detached")
		return false
	}
	delete(rm.byUser, p.UserID)
	for i, seat := range rm.seats {
		if seat == p {
			rm.seats = append(rm.seats[:i], rm.seats[i+1:]...)
			break
		}
	}
	if len(rm.seats) == 0 && !rm.closed {
		roomID := rm.id
		rm.teardown = time.AfterFunc(r.idleTimeout, func() {
			r.expire(roomID)
		})
	}
	r.mu.Unlock()

	p.closeTransport("detached")
	return true
}

// expire tears a room down if it is still empty when the grace period
// ends.
func (r *Registry) expire(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok || len(rm.seats) > 0 || rm.closed {
		r.mu.Unlock()
		return
	}
	rm.closed = true
	delete(r.rooms, roomID)
	onEmpty := rm.onEmpty
	r.mu.Unlock()

	r.log.Info().Str("room_id", roomID).Msg("room torn down after idle timeout")
	if onEmpty != nil {
		onEmpty()
	}
}

// RemoveRoom drops a room immediately, closing every attached
// transport. Used for explicit teardown (game over, admin close).
func (r *Registry) RemoveRoom(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rm.closed = true
	if rm.teardown != nil {
		rm.teardown.Stop()
	}
	seats := rm.seats
	rm.seats = nil
	rm.byUser = make(map[string]*Participant)
	delete(r.rooms, roomID)
	r.mu.Unlock()

	for _, p := range seats {
		p.closeTransport("room closed")
	}
}

// ListParticipants returns the room's participants in join order.
func (r *Registry) ListParticipants(roomID string) []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Participant, len(rm.seats))
	copy(out, rm.seats)
	return out
}

// IsAttached reports whether the user currently holds a live handle in
// the room.
func (r *Registry) IsAttached(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, present := rm.byUser[userID]
	return present
}

// Lookup resolves a user's live handle in a room.
func (r *Registry) Lookup(roomID, userID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, present := rm.byUser[userID]
	return p, present
}
