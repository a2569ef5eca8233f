package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"canvasclash/protocol"
)

const outboundQueueLimit = 256

// pingInterval is a variable so tests can tighten the keepalive clock.
var pingInterval = 30 * time.Second

// Envelope is what a room engine dequeues: one decoded message bound
// to the participant the transport read it from. Dropped connections
// surface as an envelope with Disconnected set.
type Envelope struct {
	From         *Participant
	Msg          protocol.Inbound
	Disconnected bool
}

// Participant is one connected identity in a room. The registry owns
// it; the fabric only pushes frames into its queue.
type Participant struct {
	Handle      uuid.UUID
	RoomID      string
	UserID      string
	DisplayName string
	JoinedAt    time.Time

	conn      Conn
	queue     *sendQueue
	limiter   *rate.Limiter
	inbox     chan<- Envelope
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newParticipant(roomID, userID, displayName string, conn Conn, inbox chan<- Envelope, log zerolog.Logger) *Participant {
	handle := uuid.New()
	return &Participant{
		Handle:      handle,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
		conn:        conn,
		queue:       newSendQueue(outboundQueueLimit),
		limiter:     rate.NewLimiter(rate.Limit(30), 60),
		inbox:       inbox,
		done:        make(chan struct{}),
		log:         log.With().Str("room_id", roomID).Str("user_id", userID).Logger(),
	}
}

// ReadPump decodes frames off the wire and feeds them to the room
// engine. Decode failures answer the sender only; they never reach the
// room. Runs until the connection drops.
func (p *Participant) ReadPump() {
	defer p.deliver(Envelope{From: p, Disconnected: true})

	for {
		data, err := p.conn.Read()
		if err != nil {
			return
		}
		if !p.limiter.Allow() {
			p.SendError("rate_limited", "too many messages")
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			p.log.Debug().Err(err).Msg("rejected inbound frame")
			p.SendError("protocol_error", err.Error())
			continue
		}
		p.deliver(Envelope{From: p, Msg: msg})
	}
}

// Deliver injects a message into the room engine as if the
// participant had sent it. The transport handler uses it to announce
// a join once the pumps are running.
func (p *Participant) Deliver(msg protocol.Inbound) {
	p.deliver(Envelope{From: p, Msg: msg})
}

// deliver feeds the room engine without blocking past the handle's
// lifetime. A handle closed by the registry (reconnect replacement,
// forced detach, room teardown) stops delivering instead of wedging
// the pump goroutine.
func (p *Participant) deliver(env Envelope) {
	select {
	case p.inbox <- env:
	case <-p.done:
	}
}

// WritePump is the connection's only frame writer: one goroutine
// drains the outbound queue and sends keepalive pings, so data writes
// never interleave. Runs until the queue closes or the wire fails; a
// wire failure closes the connection and lets the read pump report the
// disconnect.
func (p *Participant) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.queue.ready():
			for {
				frame, ok := p.queue.pop()
				if !ok {
					break
				}
				if err := p.conn.Write(frame.Data); err != nil {
					p.queue.close()
					p.conn.Close("write failed")
					return
				}
			}
			if p.queue.isClosed() {
				return
			}
		case <-ticker.C:
			if err := p.conn.Ping(); err != nil {
				p.queue.close()
				p.conn.Close("ping failed")
				return
			}
		}
	}
}

// Enqueue hands a frame to the write pump. The fabric is the only
// caller besides SendError.
func (p *Participant) Enqueue(frame Frame) error {
	return p.queue.push(frame)
}

// SendError answers this participant with an error-tagged message.
func (p *Participant) SendError(code, message string) {
	data := protocol.Marshal(protocol.NewError(code, message))
	if data == nil {
		return
	}
	if err := p.queue.push(Frame{Data: data}); err != nil {
		p.log.Debug().Err(err).Msg("could not deliver error to participant")
	}
}

func (p *Participant) closeTransport(reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		p.queue.close()
		p.conn.Close(reason)
	})
}

// QueueDepth is exposed for tests and diagnostics.
func (p *Participant) QueueDepth() int {
	return p.queue.len()
}

// PeekFrame returns the head of the outbound queue without consuming
// it. Exposed for tests and diagnostics.
func (p *Participant) PeekFrame() (Frame, bool) {
	return p.queue.peek()
}
