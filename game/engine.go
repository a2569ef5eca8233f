package game

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"canvasclash/protocol"
	"canvasclash/session"
	"canvasclash/wordbank"
)

const (
	inboxSize     = 256
	roundEndPause = 5 * time.Second
)

// Engine is the actor owning one game room. The Room state machine is
// pure; this loop feeds it participant messages and clock ticks and
// turns its results into broadcasts.
type Engine struct {
	room   *Room
	reg    *session.Registry
	fabric *session.Fabric
	bank   *wordbank.Bank
	grace  time.Duration
	inbox  chan session.Envelope
	quit   chan struct{}
	log    zerolog.Logger

	// statusMu guards the published copy of the game state. Everything
	// else on room belongs to the engine goroutine alone.
	statusMu sync.Mutex
	status   State

	// OnSummary, when set, receives a finished game's summary for
	// persistence.
	OnSummary func(code string, summary json.RawMessage)
}

func NewEngine(code string, settings Settings, reg *session.Registry, fabric *session.Fabric, bank *wordbank.Bank, grace time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		room:   NewRoom(code, settings),
		reg:    reg,
		fabric: fabric,
		bank:   bank,
		grace:  grace,
		inbox:  make(chan session.Envelope, inboxSize),
		quit:   make(chan struct{}),
		log:    log.With().Str("room_code", code).Logger(),
		status: StateLobby,
	}
}

func (e *Engine) Inbox() chan<- session.Envelope { return e.inbox }

// State reports the last published game state. Safe from any
// goroutine; the engine republishes after every dispatch and tick.
func (e *Engine) State() State {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// MaxPlayers is fixed at room creation and safe to read anywhere.
func (e *Engine) MaxPlayers() int { return e.room.Settings.MaxPlayers }

func (e *Engine) publishState() {
	e.statusMu.Lock()
	e.status = e.room.State
	e.statusMu.Unlock()
}

func (e *Engine) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case env := <-e.inbox:
			e.dispatch(env, time.Now())
		case now := <-ticker.C:
			e.tick(now)
		case <-e.quit:
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

// outbound payloads

type playerStatePayload struct {
	Players     []*Player `json:"players"`
	RoundNumber int       `json:"round_number"`
	Settings    Settings  `json:"settings"`
}

type roundStartedPayload struct {
	RoundNumber int    `json:"round_number"`
	DrawerID    string `json:"drawer_id"`
	DrawerName  string `json:"drawer_name"`
	SelectionBy int64  `json:"selection_by"`
}

type wordSelectedPayload struct {
	Hint     string  `json:"hint"`
	DrawerID string  `json:"drawer_id"`
	Duration float64 `json:"duration"`
}

type guessResultPayload struct {
	Outcome GuessOutcome `json:"outcome"`
	Points  int          `json:"points"`
}

type roundEndedPayload struct {
	Word        string         `json:"word"`
	Reason      string         `json:"reason"`
	ScoreDeltas map[string]int `json:"score_deltas"`
	Players     []*Player      `json:"players"`
}

func (e *Engine) broadcast(typ protocol.Type, payload interface{}, exclude *session.Participant) {
	data := e.event(typ, payload)
	if data != nil {
		e.fabric.Send(e.room.Code, session.Frame{Data: data, Droppable: protocol.Droppable(typ)}, exclude)
	}
}

func (e *Engine) sendTo(p *session.Participant, typ protocol.Type, payload interface{}) {
	data := e.event(typ, payload)
	if data != nil {
		e.fabric.SendTo(p, session.Frame{Data: data, Droppable: protocol.Droppable(typ)})
	}
}

func (e *Engine) event(typ protocol.Type, payload interface{}) []byte {
	var raw json.RawMessage
	if payload != nil {
		raw = protocol.Marshal(payload)
		if raw == nil {
			return nil
		}
	}
	return protocol.Marshal(protocol.GameEvent{
		Type:      typ,
		RoomCode:  e.room.Code,
		GameState: string(e.room.State),
		Payload:   raw,
	})
}

func (e *Engine) broadcastRoomState() {
	e.broadcast(protocol.TypeRoomStateChanged, playerStatePayload{
		Players:     e.room.Players,
		RoundNumber: e.room.RoundNumber,
		Settings:    e.room.Settings,
	}, nil)
}

func (e *Engine) dispatch(env session.Envelope, now time.Time) {
	defer e.publishState()
	if env.Disconnected {
		if e.reg.Detach(env.From) {
			e.room.MarkDisconnected(env.From.UserID, now)
			e.broadcastRoomState()
		}
		return
	}
	switch msg := env.Msg.(type) {
	case protocol.Join:
		e.handleJoin(env.From, now)
	case protocol.Leave:
		e.handleLeave(env.From, now)
	case protocol.StartGame:
		e.handleStart(env.From, now)
	case protocol.SelectWord:
		e.handleSelectWord(env.From, msg.Word, now)
	case protocol.Guess:
		e.handleGuess(env.From, msg.Text, now)
	case protocol.Chat:
		e.handleChat(env.From, msg.Text, now)
	case protocol.KickPlayer:
		e.handleRemove(env.From, msg.TargetID, false, now)
	case protocol.BanPlayer:
		e.handleRemove(env.From, msg.TargetID, true, now)
	default:
		env.From.SendError("protocol_error", "message not valid in a game room")
	}
}

func (e *Engine) handleJoin(p *session.Participant, now time.Time) {
	player, err := e.room.AddPlayer(p.UserID, p.DisplayName, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrBanned):
			p.SendError("banned", "you are banned from this room")
		case errors.Is(err, ErrRoomFull):
			p.SendError("room_full", "room is full")
		default:
			p.SendError("join_failed", err.Error())
		}
		e.reg.Detach(p)
		return
	}
	e.sendTo(p, protocol.TypeRoomStateChanged, playerStatePayload{
		Players:     e.room.Players,
		RoundNumber: e.room.RoundNumber,
		Settings:    e.room.Settings,
	})
	e.broadcast(protocol.TypePlayerJoined, player, p)
}

func (e *Engine) handleLeave(p *session.Participant, now time.Time) {
	if !e.reg.Detach(p) {
		return
	}
	e.playerGone(p.UserID, now)
}

// playerGone finalizes a departure: host transfer, drawer bail-out,
// and a possible early end of the whole game.
func (e *Engine) playerGone(userID string, now time.Time) {
	player, ok := e.room.PlayerByUser(userID)
	if !ok {
		return
	}
	newHost := e.room.MarkLeft(userID)
	e.broadcast(protocol.TypePlayerLeft, player, nil)
	if newHost != "" {
		e.broadcast(protocol.TypeHostChanged, map[string]string{"host_id": newHost}, nil)
	}

	if e.room.State == StateLobby || e.room.State == StateGameOver {
		e.broadcastRoomState()
		return
	}
	if e.room.connectedCount() < 2 {
		if e.room.State == StateDrawing || e.room.State == StateWordSelection {
			e.room.EndRound(now)
		}
		e.finishGame()
		return
	}
	if e.room.Round != nil && e.room.Round.DrawerID == userID &&
		(e.room.State == StateDrawing || e.room.State == StateWordSelection) {
		e.endRound("drawer_left", now)
	}
	e.broadcastRoomState()
}

func (e *Engine) handleStart(p *session.Participant, now time.Time) {
	rematch := e.room.State == StateGameOver
	if err := e.room.Start(p.UserID, now); err != nil {
		switch {
		case errors.Is(err, ErrNotHost):
			p.SendError("not_host", "only the host can start the game")
		case errors.Is(err, ErrGameNotReady):
			p.SendError("game_not_ready", "need at least 2 connected players")
		case errors.Is(err, ErrInvalidState):
			p.SendError("invalid_state", "game already running")
		default:
			p.SendError("start_failed", err.Error())
		}
		return
	}
	if rematch {
		e.bank.ResetGameWords(e.room.Code)
	}
	if err := e.offerWords(); err != nil {
		p.SendError("insufficient_words", "not enough words left for a round")
		e.room.Reset()
		e.broadcastRoomState()
	}
}

// offerWords enters word selection: options go to the drawer alone,
// the room learns who draws next.
func (e *Engine) offerWords() error {
	round := e.room.Round
	options, err := e.bank.WordOptions(e.room.Code, e.room.Settings.WordOptionCount,
		e.room.Settings.Difficulty, e.room.Settings.Category, e.room.Settings.CustomWords)
	if err != nil {
		return err
	}
	round.Options = options

	drawer, _ := e.room.PlayerByUser(round.DrawerID)
	e.broadcast(protocol.TypeRoundStarted, roundStartedPayload{
		RoundNumber: round.Number,
		DrawerID:    round.DrawerID,
		DrawerName:  drawer.Name,
		SelectionBy: round.SelectionBy.Unix(),
	}, nil)
	if dp, ok := e.reg.Lookup(e.room.Code, round.DrawerID); ok {
		e.sendTo(dp, protocol.TypeWordOptions, map[string][]string{"options": options})
	}
	return nil
}

func (e *Engine) handleSelectWord(p *session.Participant, word string, now time.Time) {
	if err := e.room.SelectWord(p.UserID, word, now); err != nil {
		switch {
		case errors.Is(err, ErrNotDrawer):
			p.SendError("not_drawer", "only the drawer picks the word")
		case errors.Is(err, ErrInvalidState):
			p.SendError("invalid_state", "no word selection in progress")
		case errors.Is(err, ErrInvalidWord):
			p.SendError("invalid_word", "pick one of the offered words")
		default:
			p.SendError("select_failed", err.Error())
		}
		return
	}
	e.startDrawing(p)
}

func (e *Engine) startDrawing(drawer *session.Participant) {
	round := e.room.Round
	e.bank.MarkUsed(e.room.Code, round.Word)
	e.broadcast(protocol.TypeWordSelected, wordSelectedPayload{
		Hint:     round.Hint(),
		DrawerID: round.DrawerID,
		Duration: e.room.Settings.RoundDuration.Seconds(),
	}, nil)
	if drawer != nil {
		e.sendTo(drawer, protocol.TypeWordSelected, map[string]string{"word": round.Word})
	}
}

func (e *Engine) handleGuess(p *session.Participant, text string, now time.Time) {
	guess, allGuessed := e.room.EvaluateGuess(p.UserID, text, now)
	e.sendTo(p, protocol.TypeGuessResult, guessResultPayload{Outcome: guess.Outcome, Points: guess.Points})

	player, _ := e.room.PlayerByUser(p.UserID)
	name := p.DisplayName
	if player != nil {
		name = player.Name
	}
	switch guess.Outcome {
	case GuessCorrect:
		e.appendChat(ChatMessage{Kind: "correct", SenderID: p.UserID, SenderName: name,
			Content: name + " guessed the word!", At: now})
		e.broadcast(protocol.TypeScoreUpdate, playerStatePayload{
			Players:     e.room.Players,
			RoundNumber: e.room.RoundNumber,
			Settings:    e.room.Settings,
		}, nil)
		if allGuessed {
			e.endRound("all_guessed", now)
		}
	case GuessClose:
		// Proximity signal only; the guess text stays private.
		e.appendChat(ChatMessage{Kind: "close_guess", SenderID: p.UserID, SenderName: name,
			Content: name + " is close!", At: now})
	case GuessWrong:
		e.appendChat(ChatMessage{Kind: "chat", SenderID: p.UserID, SenderName: name,
			Content: text, At: now})
	}
}

func (e *Engine) handleChat(p *session.Participant, text string, now time.Time) {
	if e.room.State == StateDrawing && e.room.Round != nil && e.room.Round.DrawerID == p.UserID {
		p.SendError("invalid_state", "the drawer cannot chat during the round")
		return
	}
	name := p.DisplayName
	if player, ok := e.room.PlayerByUser(p.UserID); ok {
		name = player.Name
	}
	e.appendChat(ChatMessage{Kind: "chat", SenderID: p.UserID, SenderName: name, Content: text, At: now})
}

func (e *Engine) appendChat(msg ChatMessage) {
	if e.room.Round != nil {
		e.room.Round.Chat = append(e.room.Round.Chat, msg)
	}
	data := protocol.Marshal(protocol.ChatBroadcast{
		Type:        protocol.TypeChatMessage,
		RoomCode:    e.room.Code,
		GameState:   string(e.room.State),
		MessageType: msg.Kind,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		Timestamp:   msg.At,
	})
	if data != nil {
		e.fabric.Send(e.room.Code, session.Frame{Data: data}, nil)
	}
}

func (e *Engine) handleRemove(p *session.Participant, targetID string, ban bool, now time.Time) {
	requester, ok := e.room.PlayerByUser(p.UserID)
	if !ok || !requester.IsHost {
		p.SendError("not_host", "only the host can remove players")
		return
	}
	if targetID == p.UserID {
		p.SendError("invalid_target", "host cannot remove themselves")
		return
	}
	if _, ok := e.room.PlayerByUser(targetID); !ok {
		p.SendError("player_not_found", "no such player")
		return
	}
	if ban {
		e.room.Ban(targetID)
	}
	if target, attached := e.reg.Lookup(e.room.Code, targetID); attached {
		e.sendTo(target, protocol.TypeKicked, map[string]bool{"banned": ban})
		e.reg.Detach(target)
	}
	e.playerGone(targetID, now)
}

// tick advances everything clock-driven: selection timeouts, hint
// reveals, round deadlines, round-end pauses, and disconnect grace.
func (e *Engine) tick(now time.Time) {
	defer e.publishState()
	e.expireDisconnected(now)

	round := e.room.Round
	switch e.room.State {
	case StateWordSelection:
		if round != nil && now.After(round.SelectionBy) && len(round.Options) > 0 {
			// Drawer stalled; pick for them.
			if err := e.room.SelectWord(round.DrawerID, round.Options[0], now); err == nil {
				drawer, _ := e.reg.Lookup(e.room.Code, round.DrawerID)
				e.startDrawing(drawer)
			}
		}
	case StateDrawing:
		if round == nil {
			return
		}
		elapsed := now.Sub(round.StartedAt)
		for i, interval := range e.room.Settings.HintIntervals {
			if round.hintsGiven == i && elapsed >= interval {
				if round.RevealLetters(1) > 0 {
					e.broadcast(protocol.TypeHintRevealed, map[string]string{"hint": round.Hint()}, nil)
				}
				round.hintsGiven++
			}
		}
		if now.After(round.EndsAt) || now.Equal(round.EndsAt) {
			e.endRound("timeout", now)
			return
		}
		remaining := round.EndsAt.Sub(now).Seconds()
		data := protocol.Marshal(protocol.TimerUpdate{
			Type:          protocol.TypeTimerUpdate,
			RoomCode:      e.room.Code,
			GameState:     string(e.room.State),
			TimeRemaining: remaining,
		})
		if data != nil {
			e.fabric.Send(e.room.Code, session.Frame{Data: data, Droppable: true}, nil)
		}
	case StateRoundEnd:
		if now.Sub(e.room.RoundEndedAt) >= roundEndPause {
			e.advance(now)
		}
	}
}

func (e *Engine) expireDisconnected(now time.Time) {
	for _, p := range e.room.Players {
		if p.Conn == ConnDisconnected && now.Sub(p.DisconnectedAt) >= e.grace {
			e.playerGone(p.UserID, now)
		}
	}
}

func (e *Engine) endRound(reason string, now time.Time) {
	word := ""
	if e.room.Round != nil {
		word = e.room.Round.Word
	}
	deltas := e.room.EndRound(now)
	e.broadcast(protocol.TypeRoundEnded, roundEndedPayload{
		Word:        word,
		Reason:      reason,
		ScoreDeltas: deltas,
		Players:     e.room.Players,
	}, nil)
}

func (e *Engine) advance(now time.Time) {
	if err := e.room.Advance(now); err != nil {
		return
	}
	if e.room.State == StateGameOver {
		e.finishGame()
		return
	}
	if err := e.offerWords(); err != nil {
		// Pool exhausted mid-game; the game ends with the scores as
		// they stand.
		e.room.State = StateGameOver
		e.finishGame()
	}
}

func (e *Engine) finishGame() {
	e.room.State = StateGameOver
	e.room.Round = nil
	e.broadcast(protocol.TypeGameOver, playerStatePayload{
		Players:     e.room.Players,
		RoundNumber: e.room.RoundNumber,
		Settings:    e.room.Settings,
	}, nil)
	if e.OnSummary != nil {
		summary := protocol.Marshal(map[string]interface{}{
			"code":     e.room.Code,
			"players":  e.room.Players,
			"rounds":   len(e.room.RoundHistory),
			"ended_at": time.Now(),
		})
		if summary != nil {
			e.OnSummary(e.room.Code, summary)
		}
	}
}
