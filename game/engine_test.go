package game

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
	"canvasclash/storage"
	"canvasclash/wordbank"
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

func (c *fakeConn) lastOfType(typ string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.written) - 1; i >= 0; i-- {
		var msg map[string]interface{}
		if json.Unmarshal(c.written[i], &msg) == nil && msg["type"] == typ {
			return msg, true
		}
	}
	return nil, false
}

func waitForEvent(t *testing.T, conn *fakeConn, typ string) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.Eventually(t, func() bool {
		f, ok := conn.lastOfType(typ)
		if ok {
			frame = f
		}
		return ok
	}, time.Second, 5*time.Millisecond, "expected a %s event", typ)
	return frame
}

type testGame struct {
	eng *Engine
	reg *session.Registry
}

func setupGame(t *testing.T, settings Settings) *testGame {
	t.Helper()
	reg := session.NewRegistry(time.Minute, zerolog.Nop())
	fabric := session.NewFabric(reg, zerolog.Nop())
	bank := wordbank.NewBank()
	eng := NewEngine("ABC123", settings, reg, fabric, bank, 30*time.Second, zerolog.Nop())
	reg.EnsureRoom("ABC123", session.KindGame, eng.Inbox(), nil)
	return &testGame{eng: eng, reg: reg}
}

func (g *testGame) join(t *testing.T, userID string, now time.Time) (*session.Participant, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	p, err := g.reg.Attach("ABC123", userID, userID, conn)
	require.NoError(t, err)
	go p.WritePump()
	g.eng.dispatch(session.Envelope{From: p, Msg: protocol.Join{UserID: userID, UserName: userID}}, now)
	return p, conn
}

func TestStartWithOnePlayerFails(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, hostConn := g.join(t, "alice", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.StartGame{}}, now)

	frame := waitForEvent(t, hostConn, "error")
	assert.Equal(t, "game_not_ready", frame["code"])
	assert.Equal(t, StateLobby, g.eng.room.State)
}

func TestFullRoundFlow(t *testing.T) {
	settings := DefaultSettings()
	settings.RoundsPerGame = 1
	g := setupGame(t, settings)
	now := time.Now()

	host, _ := g.join(t, "alice", now)
	bob, bobConn := g.join(t, "bob", now)
	carol, carolConn := g.join(t, "carol", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.StartGame{}}, now)
	require.Equal(t, StateWordSelection, g.eng.room.State)
	require.Equal(t, "alice", g.eng.room.Round.DrawerID)

	started := waitForEvent(t, bobConn, "round_started")
	payload := started["payload"].(map[string]interface{})
	assert.Equal(t, "alice", payload["drawer_id"])

	// Only the drawer sees the options.
	require.Len(t, g.eng.room.Round.Options, 3)
	if _, leaked := bobConn.lastOfType("word_options"); leaked {
		t.Fatal("word options leaked to a guesser")
	}

	word := g.eng.room.Round.Options[0]
	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.SelectWord{Word: word}}, now)
	require.Equal(t, StateDrawing, g.eng.room.State)

	selected := waitForEvent(t, carolConn, "word_selected")
	payload = selected["payload"].(map[string]interface{})
	hint := payload["hint"].(string)
	assert.NotContains(t, hint, word[:1], "hint starts fully masked")

	// Wrong guess shows up as plain chat, close guess as a proximity
	// signal without the text.
	g.eng.dispatch(session.Envelope{From: bob, Msg: protocol.Guess{Text: "zzzzzz"}}, now.Add(time.Second))
	chat := waitForEvent(t, carolConn, "chat_message")
	assert.Equal(t, "zzzzzz", chat["content"])

	g.eng.dispatch(session.Envelope{From: bob, Msg: protocol.Guess{Text: word}}, now.Add(2*time.Second))
	result := waitForEvent(t, bobConn, "guess_result")
	payload = result["payload"].(map[string]interface{})
	assert.Equal(t, "correct", payload["outcome"])
	waitForEvent(t, carolConn, "score_update")

	g.eng.dispatch(session.Envelope{From: carol, Msg: protocol.Guess{Text: word}}, now.Add(3*time.Second))
	require.Equal(t, StateRoundEnd, g.eng.room.State, "all guessers done ends the round")

	ended := waitForEvent(t, bobConn, "round_ended")
	payload = ended["payload"].(map[string]interface{})
	assert.Equal(t, word, payload["word"], "the word is revealed at round end")
	assert.Equal(t, "all_guessed", payload["reason"])

	// Drawer bonus landed.
	drawer, _ := g.eng.room.PlayerByUser("alice")
	assert.Greater(t, drawer.Score, 0)

	// Past the round-end pause the single-round game is over.
	g.eng.tick(now.Add(10 * time.Second))
	assert.Equal(t, StateGameOver, g.eng.room.State)
	waitForEvent(t, carolConn, "game_over")
}

func TestRoundTimeoutEndsRound(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, _ := g.join(t, "alice", now)
	_, bobConn := g.join(t, "bob", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.StartGame{}}, now)
	word := g.eng.room.Round.Options[0]
	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.SelectWord{Word: word}}, now)

	g.eng.tick(now.Add(g.eng.room.Settings.RoundDuration + time.Second))
	require.Equal(t, StateRoundEnd, g.eng.room.State)

	ended := waitForEvent(t, bobConn, "round_ended")
	payload := ended["payload"].(map[string]interface{})
	assert.Equal(t, "timeout", payload["reason"])
}

func TestHintsRevealOnSchedule(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, _ := g.join(t, "alice", now)
	_, bobConn := g.join(t, "bob", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.StartGame{}}, now)
	word := g.eng.room.Round.Options[0]
	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.SelectWord{Word: word}}, now)

	g.eng.tick(now.Add(21 * time.Second))
	hint := waitForEvent(t, bobConn, "hint_revealed")
	payload := hint["payload"].(map[string]interface{})
	first := payload["hint"].(string)
	assert.Equal(t, string(word[0]), string(first[0]), "first reveal is the leftmost letter")

	g.eng.tick(now.Add(41 * time.Second))
	assert.Equal(t, 2, g.eng.room.Round.hintsGiven)
}

func TestSelectionTimeoutAutoPicks(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, _ := g.join(t, "alice", now)
	g.join(t, "bob", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.StartGame{}}, now)
	first := g.eng.room.Round.Options[0]

	g.eng.tick(now.Add(g.eng.room.Settings.SelectionTimeout + time.Second))
	assert.Equal(t, StateDrawing, g.eng.room.State)
	assert.Equal(t, first, g.eng.room.Round.Word, "stalled drawer gets the first option")
}

func TestDisconnectGraceThenLeft(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	g.join(t, "alice", now)
	bob, _ := g.join(t, "bob", now)
	g.join(t, "carol", now)

	g.eng.dispatch(session.Envelope{From: bob, Disconnected: true}, now)
	player, _ := g.eng.room.PlayerByUser("bob")
	require.Equal(t, ConnDisconnected, player.Conn)

	// Within the grace period the seat survives a tick.
	g.eng.tick(now.Add(10 * time.Second))
	assert.Equal(t, ConnDisconnected, player.Conn)

	// Reconnect resumes the same seat.
	player.Score = 700
	g.join(t, "bob", now.Add(15*time.Second))
	refreshed, _ := g.eng.room.PlayerByUser("bob")
	assert.Equal(t, ConnConnected, refreshed.Conn)
	assert.Equal(t, 700, refreshed.Score)
	assert.Len(t, g.eng.room.Players, 3)
}

func TestGraceExpiryMarksLeft(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	_, aliceConn := g.join(t, "alice", now)
	bob, _ := g.join(t, "bob", now)
	g.join(t, "carol", now)

	g.eng.dispatch(session.Envelope{From: bob, Disconnected: true}, now)
	g.eng.tick(now.Add(31 * time.Second))

	player, _ := g.eng.room.PlayerByUser("bob")
	assert.Equal(t, ConnLeft, player.Conn)
	waitForEvent(t, aliceConn, "player_left")
}

func TestKickAndBan(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, _ := g.join(t, "alice", now)
	bob, bobConn := g.join(t, "bob", now)
	g.join(t, "carol", now)

	// Non-host cannot kick.
	g.eng.dispatch(session.Envelope{From: bob, Msg: protocol.KickPlayer{TargetID: "carol"}}, now)
	frame := waitForEvent(t, bobConn, "error")
	assert.Equal(t, "not_host", frame["code"])

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.BanPlayer{TargetID: "bob"}}, now)
	waitForEvent(t, bobConn, "kicked")
	assert.False(t, g.reg.IsAttached("ABC123", "bob"))

	// Banned users cannot come back.
	conn := newFakeConn()
	p, err := g.reg.Attach("ABC123", "bob", "bob", conn)
	require.NoError(t, err)
	go p.WritePump()
	g.eng.dispatch(session.Envelope{From: p, Msg: protocol.Join{UserID: "bob", UserName: "bob"}}, now)
	banned := waitForEvent(t, conn, "error")
	assert.Equal(t, "banned", banned["code"])
	assert.False(t, g.reg.IsAttached("ABC123", "bob"))
}

func TestHostLeavingTransfersHost(t *testing.T) {
	g := setupGame(t, DefaultSettings())
	now := time.Now()
	host, _ := g.join(t, "alice", now)
	_, bobConn := g.join(t, "bob", now)
	g.join(t, "carol", now)

	g.eng.dispatch(session.Envelope{From: host, Msg: protocol.Leave{}}, now)

	changed := waitForEvent(t, bobConn, "host_changed")
	payload := changed["payload"].(map[string]interface{})
	assert.Equal(t, "bob", payload["host_id"])
	player, _ := g.eng.room.PlayerByUser("bob")
	assert.True(t, player.IsHost)
}

func TestListRoomsReadsPublishedState(t *testing.T) {
	reg := session.NewRegistry(time.Minute, zerolog.Nop())
	fabric := session.NewFabric(reg, zerolog.Nop())
	svc := NewService(reg, fabric, wordbank.NewBank(), storage.NewMemoryStore(), 30*time.Second, zerolog.Nop())

	code, err := svc.CreateRoom(DefaultSettings())
	require.NoError(t, err)
	defer svc.teardown(code)

	// Hammer the listing from this side while the engine goroutine
	// mutates room state; the listing must only see published copies.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				svc.ListRooms()
			}
		}
	}()

	join := func(userID string) *session.Participant {
		conn := newFakeConn()
		p, err := reg.Attach(code, userID, userID, conn)
		require.NoError(t, err)
		go p.WritePump()
		p.Deliver(protocol.Join{UserID: userID, UserName: userID})
		return p
	}
	host := join("alice")
	join("bob")
	host.Deliver(protocol.StartGame{})

	require.Eventually(t, func() bool {
		for _, info := range svc.ListRooms() {
			if info.Code == code {
				return info.State == StateWordSelection &&
					info.PlayerCount == 2 &&
					info.MaxPlayers == DefaultSettings().MaxPlayers
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "listing never reflected the started game")

	close(stop)
	wg.Wait()
}

func TestRoomCodesNeverCollide(t *testing.T) {
	reg := session.NewRegistry(time.Minute, zerolog.Nop())
	fabric := session.NewFabric(reg, zerolog.Nop())
	svc := NewService(reg, fabric, wordbank.NewBank(), storage.NewMemoryStore(), 30*time.Second, zerolog.Nop())

	seen := make(map[string]bool, 10000)
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for i := 0; i < 10000; i++ {
		code, err := svc.newCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		require.False(t, seen[code], "room code collided")
		seen[code] = true
		svc.engines[code] = nil
	}
}
