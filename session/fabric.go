package session

import (
	"errors"

	"github.com/rs/zerolog"

	"canvasclash/protocol"
)

// Fabric fans frames out to a room's participants. Frames submitted
// from one engine step reach every recipient's queue in submission
// order; ordering across rooms is independent.
type Fabric struct {
	reg *Registry
	log zerolog.Logger
}

func NewFabric(reg *Registry, log zerolog.Logger) *Fabric {
	return &Fabric{reg: reg, log: log}
}

// Send delivers a frame to every participant of the room, skipping
// exclude when non-nil. A participant whose queue is saturated with
// nothing left to drop is forcibly detached and announced to the rest
// of the room as a presence change.
func (f *Fabric) Send(roomID string, frame Frame, exclude *Participant) {
	var detached []*Participant
	for _, p := range f.reg.ListParticipants(roomID) {
		if exclude != nil && p.Handle == exclude.Handle {
			continue
		}
		if err := p.Enqueue(frame); err != nil {
			if errors.Is(err, ErrQueueSaturated) {
				detached = append(detached, p)
			}
		}
	}
	for _, p := range detached {
		f.Drop(p, "outbound queue saturated")
	}
}

// SendTo delivers a frame to one participant.
func (f *Fabric) SendTo(p *Participant, frame Frame) error {
	err := p.Enqueue(frame)
	if errors.Is(err, ErrQueueSaturated) {
		f.Drop(p, "outbound queue saturated")
	}
	return err
}

// Drop force-detaches a participant and tells the rest of the room
// they left. The unresponsive peer gets no error message; everyone
// else sees a presence change only.
func (f *Fabric) Drop(p *Participant, reason string) {
	if !f.reg.Detach(p) {
		return
	}
	f.log.Warn().
		Str("room_id", p.RoomID).
		Str("user_id", p.UserID).
		Str("reason", reason).
		Msg("participant force-detached")

	data := protocol.Marshal(protocol.NewUserLeft(p.UserID, p.DisplayName))
	if data != nil {
		f.Send(p.RoomID, Frame{Data: data}, nil)
	}
}
