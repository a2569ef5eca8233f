package canvas

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvasclash/protocol"
	"canvasclash/session"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	reads   chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte)}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Read() ([]byte, error) {
	data, ok := <-c.reads
	if !ok {
		return nil, fmt.Errorf("connection closed")
	}
	return data, nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
}

// frames decodes everything written so far.
func (c *fakeConn) frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.written))
	for _, data := range c.written {
		var msg map[string]interface{}
		if json.Unmarshal(data, &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(typ string) (map[string]interface{}, bool) {
	all := c.frames()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i]["type"] == typ {
			return all[i], true
		}
	}
	return nil, false
}

func setupEngine(t *testing.T) (*Engine, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(time.Minute, zerolog.Nop())
	fabric := session.NewFabric(reg, zerolog.Nop())
	eng := NewEngine("room-1", reg, fabric, zerolog.Nop())
	reg.EnsureRoom("room-1", session.KindCanvas, eng.Inbox(), nil)
	return eng, reg
}

func joinUser(t *testing.T, reg *session.Registry, userID string) (*session.Participant, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	p, err := reg.Attach("room-1", userID, userID, conn)
	require.NoError(t, err)
	go p.WritePump()
	return p, conn
}

func addElement(t *testing.T, eng *Engine, p *session.Participant, typ string) *Element {
	t.Helper()
	before := len(eng.canvas.order)
	eng.dispatch(session.Envelope{From: p, Msg: protocol.ElementAdd{
		ElementType: typ,
		ElementData: json.RawMessage(`{"color":"#000"}`),
	}})
	require.Len(t, eng.canvas.order, before+1)
	return eng.canvas.Elements[eng.canvas.order[before]]
}

func waitForFrame(t *testing.T, conn *fakeConn, typ string) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.Eventually(t, func() bool {
		f, ok := conn.lastOfType(typ)
		if ok {
			frame = f
		}
		return ok
	}, time.Second, 5*time.Millisecond, "expected a %s frame", typ)
	return frame
}

func TestVersionMonotonicAcrossUpdates(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")

	el := addElement(t, eng, alice, "stroke")
	assert.Equal(t, int64(1), el.Version)

	for i := 0; i < 5; i++ {
		eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementUpdate{
			ElementID: el.ID,
			Updates:   map[string]interface{}{"width": i},
			Version:   el.Version,
		}})
	}
	assert.Equal(t, int64(6), el.Version, "version equals applied updates plus one")
}

func TestStaleVersionStillApplied(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")
	bob, bobConn := joinUser(t, reg, "bob")

	el := addElement(t, eng, alice, "shape")
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementUpdate{
		ElementID: el.ID, Updates: map[string]interface{}{"color": "red"}, Version: 1,
	}})

	// Bob races with a version he read before Alice's update landed.
	eng.dispatch(session.Envelope{From: bob, Msg: protocol.ElementUpdate{
		ElementID: el.ID, Updates: map[string]interface{}{"color": "blue"}, Version: 1,
	}})

	assert.Equal(t, "blue", el.Data["color"], "stale write still wins last")
	assert.Equal(t, int64(3), el.Version)
	assert.Equal(t, "bob", el.UpdatedBy)

	require.Eventually(t, func() bool {
		f, ok := bobConn.lastOfType("element_updated")
		return ok && f["version"] == float64(3)
	}, time.Second, 5*time.Millisecond, "authoritative version rides the broadcast")
}

func TestDeleteOfDeletedAcknowledgesSenderOnly(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, aliceConn := joinUser(t, reg, "alice")
	_, bobConn := joinUser(t, reg, "bob")

	el := addElement(t, eng, alice, "text")
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementDelete{ElementID: el.ID}})
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementDelete{ElementID: el.ID}})

	waitForFrame(t, aliceConn, "element_deleted")
	require.Eventually(t, func() bool {
		frames := aliceConn.frames()
		n := 0
		for _, f := range frames {
			if f["type"] == "element_deleted" {
				n++
			}
		}
		return n == 2
	}, time.Second, 5*time.Millisecond, "second delete still acknowledged")

	waitForFrame(t, bobConn, "element_deleted")
	for _, f := range bobConn.frames() {
		if f["type"] == "element_deleted" {
			assert.Equal(t, el.ID, f["element_id"])
		}
	}
	bobDeletes := 0
	for _, f := range bobConn.frames() {
		if f["type"] == "element_deleted" {
			bobDeletes++
		}
	}
	assert.Equal(t, 1, bobDeletes, "no-op delete is not rebroadcast")
}

func TestLockedElementRejectsUpdate(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, aliceConn := joinUser(t, reg, "alice")

	el := addElement(t, eng, alice, "shape")
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.LayerAction{Action: "toggle_lock", ElementID: el.ID}})
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementUpdate{
		ElementID: el.ID, Updates: map[string]interface{}{"color": "red"}, Version: 2,
	}})

	frame := waitForFrame(t, aliceConn, "error")
	assert.Equal(t, "element_locked", frame["code"])
	_, hasColor := el.Data["color"]
	assert.False(t, hasColor)
}

func elementIDs(c *Canvas) []string {
	out := make([]string, 0, len(c.order))
	for _, el := range c.Ordered() {
		out = append(out, el.ID)
	}
	return out
}

func TestUndoRedoRoundTripPerVariant(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")

	a := addElement(t, eng, alice, "stroke")
	b := addElement(t, eng, alice, "shape")

	mutations := []struct {
		name string
		msg  protocol.Inbound
	}{
		{"add", protocol.ElementAdd{ElementType: "text", ElementData: json.RawMessage(`{"text":"hi"}`)}},
		{"update", protocol.ElementUpdate{ElementID: a.ID, Updates: map[string]interface{}{"color": "red"}, Version: 1}},
		{"delete", protocol.ElementDelete{ElementID: b.ID}},
		{"reorder", protocol.LayerAction{Action: "bring_to_front", ElementID: a.ID}},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			eng.dispatch(session.Envelope{From: alice, Msg: m.msg})
			afterIDs := elementIDs(eng.canvas)
			afterCount := len(eng.canvas.Elements)

			eng.dispatch(session.Envelope{From: alice, Msg: protocol.Undo{}})
			eng.dispatch(session.Envelope{From: alice, Msg: protocol.Redo{}})

			assert.Equal(t, afterIDs, elementIDs(eng.canvas), "undo then redo restores the element order")
			assert.Equal(t, afterCount, len(eng.canvas.Elements))
		})
	}
}

func TestUndoRedoGroupRoundTrip(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")

	a := addElement(t, eng, alice, "stroke")
	b := addElement(t, eng, alice, "shape")

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Group{
		ElementIDs: []string{a.ID, b.ID}, Name: "pair",
	}})
	require.Len(t, eng.canvas.Elements, 3)
	groupID := a.GroupID
	require.NotEmpty(t, groupID)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Undo{}})
	assert.Len(t, eng.canvas.Elements, 2)
	assert.Empty(t, eng.canvas.Elements[a.ID].GroupID)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Redo{}})
	assert.Len(t, eng.canvas.Elements, 3)
	assert.Equal(t, groupID, eng.canvas.Elements[a.ID].GroupID)

	// Ungroup and round-trip that too.
	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Ungroup{GroupID: groupID}})
	require.Len(t, eng.canvas.Elements, 2)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Undo{}})
	assert.Len(t, eng.canvas.Elements, 3)
	assert.Equal(t, groupID, eng.canvas.Elements[b.ID].GroupID)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Redo{}})
	assert.Len(t, eng.canvas.Elements, 2)
	assert.Empty(t, eng.canvas.Elements[b.ID].GroupID)
}

func TestPushAfterUndoDiscardsRedoTail(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, aliceConn := joinUser(t, reg, "alice")

	addElement(t, eng, alice, "stroke")
	addElement(t, eng, alice, "shape")

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Undo{}})
	require.True(t, eng.history.CanRedo())

	addElement(t, eng, alice, "text")
	assert.False(t, eng.history.CanRedo(), "new command discards the redo tail")

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.Redo{}})
	frame := waitForFrame(t, aliceConn, "error")
	assert.Equal(t, "nothing_to_redo", frame["code"])
}

func TestReorderOps(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")

	a := addElement(t, eng, alice, "stroke")
	b := addElement(t, eng, alice, "shape")
	c := addElement(t, eng, alice, "text")
	require.Equal(t, []string{a.ID, b.ID, c.ID}, elementIDs(eng.canvas))

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.LayerAction{Action: "bring_to_front", ElementID: a.ID}})
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, elementIDs(eng.canvas))

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.LayerAction{Action: "send_to_back", ElementID: c.ID}})
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, elementIDs(eng.canvas))

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.LayerAction{Action: "move_forward", ElementID: c.ID}})
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, elementIDs(eng.canvas))

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.LayerAction{Action: "move_backward", ElementID: a.ID}})
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, elementIDs(eng.canvas))

	for i, el := range eng.canvas.Ordered() {
		assert.Equal(t, i, el.ZIndex, "z-index mirrors order position")
	}
}

func TestJoinSendsSyncAndAnnouncesToOthers(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, aliceConn := joinUser(t, reg, "alice")
	addElement(t, eng, alice, "stroke")

	bob, bobConn := joinUser(t, reg, "bob")
	eng.dispatch(session.Envelope{From: bob, Msg: protocol.Join{UserID: "bob", UserName: "bob"}})

	sync := waitForFrame(t, bobConn, "sync")
	canvasState, ok := sync["canvas"].(map[string]interface{})
	require.True(t, ok)
	elements, ok := canvasState["elements"].([]interface{})
	require.True(t, ok)
	assert.Len(t, elements, 1, "joiner sees the full element set")
	users, ok := sync["connected_users"].([]interface{})
	require.True(t, ok)
	assert.Len(t, users, 2)

	joined := waitForFrame(t, aliceConn, "user_joined")
	assert.Equal(t, "bob", joined["user_id"])
	if _, sawOwnJoin := bobConn.lastOfType("user_joined"); sawOwnJoin {
		t.Fatal("joiner should not receive their own join announcement")
	}
}

func TestCursorFramesAreDroppable(t *testing.T) {
	eng, reg := setupEngine(t)
	alice, _ := joinUser(t, reg, "alice")
	joinUser(t, reg, "bob")

	// Inspect the frame before the write pump drains it: attach a
	// third user with no running pump.
	conn := newFakeConn()
	carol, err := reg.Attach("room-1", "carol", "carol", conn)
	require.NoError(t, err)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.CursorMove{X: 3, Y: 4}})
	require.Equal(t, 1, carol.QueueDepth())
	frame, ok := carol.PeekFrame()
	require.True(t, ok)
	assert.True(t, frame.Droppable)

	eng.dispatch(session.Envelope{From: alice, Msg: protocol.ElementAdd{ElementType: "stroke"}})
	require.Equal(t, 2, carol.QueueDepth())
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	eng, reg := setupEngine(t)
	_, aliceConn := joinUser(t, reg, "alice")
	bob, _ := joinUser(t, reg, "bob")

	eng.dispatch(session.Envelope{From: bob, Disconnected: true})
	assert.False(t, reg.IsAttached("room-1", "bob"))

	frame := waitForFrame(t, aliceConn, "user_left")
	assert.Equal(t, "bob", frame["user_id"])
}
