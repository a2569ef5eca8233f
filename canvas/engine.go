package canvas

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"canvasclash/protocol"
	"canvasclash/session"
)

const inboxSize = 256

// Engine is the actor owning one canvas room. All state mutation
// happens on the Run goroutine; connections talk to it only through
// the inbox, which makes each operation atomic relative to the room.
type Engine struct {
	roomID  string
	canvas  *Canvas
	history *History
	reg     *session.Registry
	fabric  *session.Fabric
	inbox   chan session.Envelope
	quit    chan struct{}
	log     zerolog.Logger

	// OnSnapshot, when set, receives the final canvas state as the
	// engine stops. The owning service wires it to persistence.
	OnSnapshot func(roomID string, snapshot json.RawMessage)
}

func NewEngine(roomID string, reg *session.Registry, fabric *session.Fabric, log zerolog.Logger) *Engine {
	return &Engine{
		roomID:  roomID,
		canvas:  NewCanvas(roomID),
		history: &History{},
		reg:     reg,
		fabric:  fabric,
		inbox:   make(chan session.Envelope, inboxSize),
		quit:    make(chan struct{}),
		log:     log.With().Str("room_id", roomID).Logger(),
	}
}

func (e *Engine) Inbox() chan<- session.Envelope { return e.inbox }

func (e *Engine) Run() {
	for {
		select {
		case env := <-e.inbox:
			e.dispatch(env)
		case <-e.quit:
			if e.OnSnapshot != nil {
				e.OnSnapshot(e.roomID, e.canvas.Snapshot())
			}
			return
		}
	}
}

func (e *Engine) Stop() {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
}

func (e *Engine) dispatch(env session.Envelope) {
	if env.Disconnected {
		e.handleLeave(env.From)
		return
	}
	switch msg := env.Msg.(type) {
	case protocol.Join:
		e.handleJoin(env.From)
	case protocol.Leave:
		e.handleLeave(env.From)
	case protocol.ElementAdd:
		e.handleAdd(env.From, msg)
	case protocol.ElementUpdate:
		e.handleUpdate(env.From, msg)
	case protocol.ElementDelete:
		e.handleDelete(env.From, msg)
	case protocol.CursorMove:
		e.handleCursor(env.From, msg)
	case protocol.Undo:
		e.handleHistory(env.From, false)
	case protocol.Redo:
		e.handleHistory(env.From, true)
	case protocol.LayerAction:
		e.handleLayerAction(env.From, msg)
	case protocol.Group:
		e.handleGroup(env.From, msg)
	case protocol.Ungroup:
		e.handleUngroup(env.From, msg)
	default:
		env.From.SendError("protocol_error", "message not valid in a canvas room")
	}
}

// broadcastMutation sends the frame to the whole room. The sender gets
// it too, as its acknowledgement.
func (e *Engine) broadcastMutation(sender *session.Participant, v interface{}) {
	data := protocol.Marshal(v)
	if data == nil {
		return
	}
	frame := session.Frame{Data: data}
	e.fabric.Send(e.roomID, frame, sender)
	e.fabric.SendTo(sender, frame)
}

func (e *Engine) handleJoin(p *session.Participant) {
	users := make([]json.RawMessage, 0)
	for _, other := range e.reg.ListParticipants(e.roomID) {
		u := protocol.Marshal(map[string]string{
			"user_id":   other.UserID,
			"user_name": other.DisplayName,
		})
		if u != nil {
			users = append(users, u)
		}
	}
	sync := protocol.Sync{
		Type:           protocol.TypeSync,
		Canvas:         e.canvas.Snapshot(),
		ConnectedUsers: users,
	}
	if data := protocol.Marshal(sync); data != nil {
		e.fabric.SendTo(p, session.Frame{Data: data})
	}
	if data := protocol.Marshal(protocol.NewUserJoined(p.UserID, p.DisplayName)); data != nil {
		e.fabric.Send(e.roomID, session.Frame{Data: data}, p)
	}
}

func (e *Engine) handleLeave(p *session.Participant) {
	if !e.reg.Detach(p) {
		return
	}
	if data := protocol.Marshal(protocol.NewUserLeft(p.UserID, p.DisplayName)); data != nil {
		e.fabric.Send(e.roomID, session.Frame{Data: data}, nil)
	}
}

func (e *Engine) handleAdd(p *session.Participant, msg protocol.ElementAdd) {
	typ := ElementType(msg.ElementType)
	switch typ {
	case ElementStroke, ElementShape, ElementText:
	default:
		p.SendError("invalid_element", "unknown element type")
		return
	}
	var data map[string]interface{}
	if len(msg.ElementData) > 0 {
		if err := json.Unmarshal(msg.ElementData, &data); err != nil {
			p.SendError("protocol_error", "element_data is not an object")
			return
		}
	}
	el := &Element{
		ID:        uuid.New().String(),
		Type:      typ,
		Version:   1,
		Visible:   true,
		UpdatedBy: p.UserID,
		UpdatedAt: time.Now(),
		Data:      data,
	}
	e.canvas.insert(el, len(e.canvas.order))
	e.history.Push(AddCommand{Element: el.clone()})

	raw, _ := json.Marshal(el)
	e.broadcastMutation(p, protocol.ElementAdded{
		Type:    protocol.TypeElementAdded,
		UserID:  p.UserID,
		Element: raw,
		Version: el.Version,
	})
}

// handleUpdate is last-write-wins with version tracking: a stale
// client version is applied anyway, and the authoritative new version
// rides on the broadcast so overridden clients can tell.
func (e *Engine) handleUpdate(p *session.Participant, msg protocol.ElementUpdate) {
	el, ok := e.canvas.Elements[msg.ElementID]
	if !ok {
		p.SendError("element_not_found", "no such element")
		return
	}
	if el.Locked {
		p.SendError("element_locked", "element is locked")
		return
	}
	before := el.clone()
	if el.Data == nil {
		el.Data = make(map[string]interface{})
	}
	for k, v := range msg.Updates {
		switch k {
		case "visible":
			if b, ok := v.(bool); ok {
				el.Visible = b
			}
		case "locked":
			if b, ok := v.(bool); ok {
				el.Locked = b
			}
		default:
			el.Data[k] = v
		}
	}
	el.Version++
	el.UpdatedBy = p.UserID
	el.UpdatedAt = time.Now()
	e.history.Push(UpdateCommand{ElementID: el.ID, Before: before, After: el.clone()})

	e.broadcastMutation(p, protocol.ElementUpdated{
		Type:      protocol.TypeElementUpdated,
		UserID:    p.UserID,
		ElementID: el.ID,
		Updates:   msg.Updates,
		Version:   el.Version,
	})
}

func (e *Engine) handleDelete(p *session.Participant, msg protocol.ElementDelete) {
	el, ok := e.canvas.Elements[msg.ElementID]
	if !ok {
		// Already gone. Acknowledge the sender so it can settle, but
		// nothing happened worth telling the room about.
		ack := protocol.Marshal(protocol.ElementDeleted{
			Type:      protocol.TypeElementDeleted,
			UserID:    p.UserID,
			ElementID: msg.ElementID,
		})
		if ack != nil {
			e.fabric.SendTo(p, session.Frame{Data: ack})
		}
		return
	}
	snapshot := el.clone()
	index := e.canvas.remove(el.ID)
	e.history.Push(DeleteCommand{Element: snapshot, Index: index})

	e.broadcastMutation(p, protocol.ElementDeleted{
		Type:      protocol.TypeElementDeleted,
		UserID:    p.UserID,
		ElementID: el.ID,
		Version:   snapshot.Version,
	})
}

func (e *Engine) handleCursor(p *session.Participant, msg protocol.CursorMove) {
	data := protocol.Marshal(protocol.CursorMoved{
		Type:     protocol.TypeCursorMoved,
		UserID:   p.UserID,
		UserName: p.DisplayName,
		X:        msg.X,
		Y:        msg.Y,
	})
	if data != nil {
		e.fabric.Send(e.roomID, session.Frame{Data: data, Droppable: true}, p)
	}
}

func (e *Engine) handleHistory(p *session.Participant, redo bool) {
	var (
		cmd Command
		ok  bool
	)
	if redo {
		cmd, ok = e.history.Redo()
	} else {
		cmd, ok = e.history.Undo()
	}
	if !ok {
		if redo {
			p.SendError("nothing_to_redo", "no command to redo")
		} else {
			p.SendError("nothing_to_undo", "no command to undo")
		}
		return
	}
	if redo {
		e.apply(cmd)
	} else {
		e.invert(cmd)
	}

	resultType := protocol.TypeUndoResult
	if redo {
		resultType = protocol.TypeRedoResult
	}
	elements := make([]json.RawMessage, 0, len(e.canvas.order))
	for _, el := range e.canvas.Ordered() {
		if raw, err := json.Marshal(el); err == nil {
			elements = append(elements, raw)
		}
	}
	data := protocol.Marshal(protocol.HistoryResult{
		Type:     resultType,
		UserID:   p.UserID,
		CanUndo:  e.history.CanUndo(),
		CanRedo:  e.history.CanRedo(),
		Elements: elements,
	})
	if data != nil {
		// The requester reconciles too, so nobody is excluded.
		e.fabric.Send(e.roomID, session.Frame{Data: data}, nil)
	}
}

// invert rolls one command back.
func (e *Engine) invert(cmd Command) {
	switch c := cmd.(type) {
	case AddCommand:
		e.canvas.remove(c.Element.ID)
	case DeleteCommand:
		e.canvas.insert(c.Element.clone(), c.Index)
	case UpdateCommand:
		e.restore(c.ElementID, c.Before)
	case ReorderCommand:
		e.canvas.moveTo(c.ElementID, c.From)
	case GroupCommand:
		for _, id := range c.Members {
			if m, ok := e.canvas.Elements[id]; ok {
				m.GroupID = c.PriorGroups[id]
			}
		}
		e.canvas.remove(c.Group.ID)
	case UngroupCommand:
		e.canvas.insert(c.Group.clone(), c.Index)
		for _, id := range c.Members {
			if m, ok := e.canvas.Elements[id]; ok {
				m.GroupID = c.Group.ID
			}
		}
	}
}

// apply re-runs one command forward.
func (e *Engine) apply(cmd Command) {
	switch c := cmd.(type) {
	case AddCommand:
		e.canvas.insert(c.Element.clone(), c.Element.ZIndex)
	case DeleteCommand:
		e.canvas.remove(c.Element.ID)
	case UpdateCommand:
		e.restore(c.ElementID, c.After)
	case ReorderCommand:
		e.canvas.moveTo(c.ElementID, c.To)
	case GroupCommand:
		e.canvas.insert(c.Group.clone(), c.Group.ZIndex)
		for _, id := range c.Members {
			if m, ok := e.canvas.Elements[id]; ok {
				m.GroupID = c.Group.ID
			}
		}
	case UngroupCommand:
		for _, id := range c.Members {
			if m, ok := e.canvas.Elements[id]; ok {
				m.GroupID = ""
			}
		}
		e.canvas.remove(c.Group.ID)
	}
}

// restore swaps an element's content for a recorded snapshot while
// keeping its place in the z-order and bumping the version so the
// counter stays strictly increasing.
func (e *Engine) restore(id string, snapshot *Element) {
	current, ok := e.canvas.Elements[id]
	if !ok {
		return
	}
	restored := snapshot.clone()
	restored.Version = current.Version + 1
	restored.ZIndex = current.ZIndex
	e.canvas.Elements[id] = restored
}

func (e *Engine) handleLayerAction(p *session.Participant, msg protocol.LayerAction) {
	el, ok := e.canvas.Elements[msg.ElementID]
	if !ok {
		p.SendError("element_not_found", "no such element")
		return
	}
	switch msg.Action {
	case "bring_to_front", "send_to_back", "move_forward", "move_backward":
		from := e.canvas.indexOf(el.ID)
		to := from
		switch msg.Action {
		case "bring_to_front":
			to = len(e.canvas.order) - 1
		case "send_to_back":
			to = 0
		case "move_forward":
			to = from + 1
		case "move_backward":
			to = from - 1
		}
		if _, moved := e.canvas.moveTo(el.ID, to); !moved {
			p.SendError("element_not_found", "no such element")
			return
		}
		to = e.canvas.indexOf(el.ID)
		if to == from {
			// Already at the extreme. Acknowledge, no history entry.
			e.ackLayerState(p, el)
			return
		}
		el.Version++
		el.UpdatedBy = p.UserID
		el.UpdatedAt = time.Now()
		e.history.Push(ReorderCommand{ElementID: el.ID, From: from, To: to})
		e.broadcastMutation(p, protocol.ElementUpdated{
			Type:      protocol.TypeElementUpdated,
			UserID:    p.UserID,
			ElementID: el.ID,
			Updates:   map[string]interface{}{"z_index": to},
			Version:   el.Version,
		})
	case "toggle_visibility", "toggle_lock":
		before := el.clone()
		var updates map[string]interface{}
		if msg.Action == "toggle_visibility" {
			el.Visible = !el.Visible
			updates = map[string]interface{}{"visible": el.Visible}
		} else {
			el.Locked = !el.Locked
			updates = map[string]interface{}{"locked": el.Locked}
		}
		el.Version++
		el.UpdatedBy = p.UserID
		el.UpdatedAt = time.Now()
		e.history.Push(UpdateCommand{ElementID: el.ID, Before: before, After: el.clone()})
		e.broadcastMutation(p, protocol.ElementUpdated{
			Type:      protocol.TypeElementUpdated,
			UserID:    p.UserID,
			ElementID: el.ID,
			Updates:   updates,
			Version:   el.Version,
		})
	default:
		p.SendError("protocol_error", "unknown layer action")
	}
}

func (e *Engine) ackLayerState(p *session.Participant, el *Element) {
	data := protocol.Marshal(protocol.ElementUpdated{
		Type:      protocol.TypeElementUpdated,
		UserID:    p.UserID,
		ElementID: el.ID,
		Updates:   map[string]interface{}{"z_index": el.ZIndex},
		Version:   el.Version,
	})
	if data != nil {
		e.fabric.SendTo(p, session.Frame{Data: data})
	}
}

func (e *Engine) handleGroup(p *session.Participant, msg protocol.Group) {
	priors := make(map[string]string, len(msg.ElementIDs))
	for _, id := range msg.ElementIDs {
		m, ok := e.canvas.Elements[id]
		if !ok {
			p.SendError("element_not_found", "group member does not exist")
			return
		}
		if m.Type == ElementGroup {
			p.SendError("invalid_group", "cannot nest group elements")
			return
		}
		priors[id] = m.GroupID
	}

	name := msg.Name
	if name == "" {
		name = "Group"
	}
	group := &Element{
		ID:        uuid.New().String(),
		Type:      ElementGroup,
		Version:   1,
		Visible:   true,
		UpdatedBy: p.UserID,
		UpdatedAt: time.Now(),
		Data:      map[string]interface{}{"name": name, "member_ids": msg.ElementIDs},
	}
	e.canvas.insert(group, len(e.canvas.order))
	for _, id := range msg.ElementIDs {
		e.canvas.Elements[id].GroupID = group.ID
	}
	e.history.Push(GroupCommand{
		Group:       group.clone(),
		Members:     append([]string(nil), msg.ElementIDs...),
		PriorGroups: priors,
	})

	raw, _ := json.Marshal(group)
	e.broadcastMutation(p, protocol.ElementAdded{
		Type:    protocol.TypeElementAdded,
		UserID:  p.UserID,
		Element: raw,
		Version: group.Version,
	})
	for _, id := range msg.ElementIDs {
		m := e.canvas.Elements[id]
		e.broadcastMutation(p, protocol.ElementUpdated{
			Type:      protocol.TypeElementUpdated,
			UserID:    p.UserID,
			ElementID: id,
			Updates:   map[string]interface{}{"group_id": group.ID},
			Version:   m.Version,
		})
	}
}

func (e *Engine) handleUngroup(p *session.Participant, msg protocol.Ungroup) {
	group, ok := e.canvas.Elements[msg.GroupID]
	if !ok || group.Type != ElementGroup {
		p.SendError("element_not_found", "no such group")
		return
	}
	var members []string
	for _, el := range e.canvas.Ordered() {
		if el.GroupID == group.ID {
			members = append(members, el.ID)
		}
	}
	index := e.canvas.indexOf(group.ID)
	snapshot := group.clone()
	for _, id := range members {
		e.canvas.Elements[id].GroupID = ""
	}
	e.canvas.remove(group.ID)
	e.history.Push(UngroupCommand{Group: snapshot, Index: index, Members: members})

	for _, id := range members {
		m := e.canvas.Elements[id]
		e.broadcastMutation(p, protocol.ElementUpdated{
			Type:      protocol.TypeElementUpdated,
			UserID:    p.UserID,
			ElementID: id,
			Updates:   map[string]interface{}{"group_id": ""},
			Version:   m.Version,
		})
	}
	e.broadcastMutation(p, protocol.ElementDeleted{
		Type:      protocol.TypeElementDeleted,
		UserID:    p.UserID,
		ElementID: group.ID,
		Version:   snapshot.Version,
	})
}
