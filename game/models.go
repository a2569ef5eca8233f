package game

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"canvasclash/wordbank"
)

type State string

const (
	StateLobby         State = "lobby"
	StateWordSelection State = "word_selection"
	StateDrawing       State = "drawing"
	StateRoundEnd      State = "round_end"
	StateGameOver      State = "game_over"
)

type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnLeft         ConnState = "left"
)

type GuessOutcome string

const (
	GuessCorrect        GuessOutcome = "correct"
	GuessClose          GuessOutcome = "close"
	GuessWrong          GuessOutcome = "wrong"
	GuessAlreadyGuessed GuessOutcome = "already_guessed"
	GuessIsDrawer       GuessOutcome = "is_drawer"
	GuessInvalid        GuessOutcome = "invalid"
)

type Player struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	Score          int       `json:"score"`
	IsHost         bool      `json:"is_host"`
	Conn           ConnState `json:"connection"`
	HasGuessed     bool      `json:"has_guessed"`
	JoinedAt       time.Time `json:"-"`
	DisconnectedAt time.Time `json:"-"`
}

type Guess struct {
	PlayerID string       `json:"player_id"`
	Text     string       `json:"text"`
	Outcome  GuessOutcome `json:"outcome"`
	Points   int          `json:"points"`
	Elapsed  float64      `json:"elapsed"`
}

type ChatMessage struct {
	Kind       string    `json:"kind"` // chat, correct, close_guess, system
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
}

type Settings struct {
	MaxPlayers       int                 `json:"max_players"`
	RoundsPerGame    int                 `json:"rounds_per_game"`
	RoundDuration    time.Duration       `json:"-"`
	SelectionTimeout time.Duration       `json:"-"`
	HintIntervals    []time.Duration     `json:"-"`
	WordOptionCount  int                 `json:"word_option_count"`
	DrawerMultiplier float64             `json:"drawer_multiplier"`
	Difficulty       wordbank.Difficulty `json:"difficulty"`
	Category         wordbank.Category   `json:"category"`
	CustomWords      []string            `json:"custom_words,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxPlayers:       8,
		RoundsPerGame:    3,
		RoundDuration:    80 * time.Second,
		SelectionTimeout: 15 * time.Second,
		HintIntervals:    []time.Duration{20 * time.Second, 40 * time.Second, 60 * time.Second},
		WordOptionCount:  3,
		DrawerMultiplier: 0.5,
	}
}

type Round struct {
	Number      int
	DrawerID    string // user id
	Word        string
	Options     []string
	StartedAt   time.Time // drawing phase start
	EndsAt      time.Time
	SelectionBy time.Time
	Guesses     []Guess
	Chat        []ChatMessage
	ScoreDeltas map[string]int
	revealed    []bool
	hintsGiven  int
}

// Hint renders the progressively revealed word: unrevealed letters
// become underscores, whitespace and punctuation show from the start.
func (r *Round) Hint() string {
	var b strings.Builder
	for i, c := range []rune(r.Word) {
		if !isHintLetter(c) || (i < len(r.revealed) && r.revealed[i]) {
			b.WriteRune(c)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// RevealLetters discloses up to n additional letter positions, chosen
// left to right over positions not yet revealed. Returns how many were
// actually revealed.
func (r *Round) RevealLetters(n int) int {
	revealed := 0
	word := []rune(r.Word)
	for i := 0; i < len(word) && revealed < n; i++ {
		if !isHintLetter(word[i]) || r.revealed[i] {
			continue
		}
		r.revealed[i] = true
		revealed++
	}
	return revealed
}

func isHintLetter(c rune) bool {
	return c != ' ' && c != '-' && c != '\''
}

// CalculatePoints awards a correct guess at elapsed time t within a
// round of duration d: exponential decay from 1000 with a floor of
// 100.
func CalculatePoints(t, d float64) int {
	if d <= 0 {
		return 100
	}
	points := int(math.Round(1000 * math.Exp(-2*t/d)))
	if points < 100 {
		return 100
	}
	return points
}

// Room is the pure game state machine. It performs no I/O; the engine
// actor drives it and turns its results into broadcasts.
type Room struct {
	Code         string
	State        State
	Players      []*Player // join order
	Round        *Round
	RoundHistory []*Round
	Settings     Settings
	RoundNumber  int
	RoundEndedAt time.Time

	banned       map[string]struct{}
	drawerCursor int
}

func NewRoom(code string, settings Settings) *Room {
	return &Room{
		Code:     code,
		State:    StateLobby,
		Settings: settings,
		banned:   make(map[string]struct{}),
	}
}

func (rm *Room) player(userID string) *Player {
	for _, p := range rm.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// PlayerByUser returns the seat for a user id.
func (rm *Room) PlayerByUser(userID string) (*Player, bool) {
	p := rm.player(userID)
	return p, p != nil
}

func (rm *Room) connectedCount() int {
	n := 0
	for _, p := range rm.Players {
		if p.Conn == ConnConnected {
			n++
		}
	}
	return n
}

// AddPlayer seats a joining user. A user who already holds a seat
// (reconnect within the grace period) gets the same seat and score
// back. The first player to join becomes host.
func (rm *Room) AddPlayer(userID, name string, now time.Time) (*Player, error) {
	if _, isBanned := rm.banned[userID]; isBanned {
		return nil, ErrBanned
	}
	if p := rm.player(userID); p != nil {
		if p.Conn != ConnLeft {
			p.Conn = ConnConnected
			p.DisconnectedAt = time.Time{}
			return p, nil
		}
		// A player who left rejoins fresh: drop the dead seat so the
		// user id maps to one seat only.
		for i, seat := range rm.Players {
			if seat == p {
				rm.Players = append(rm.Players[:i], rm.Players[i+1:]...)
				if i < rm.drawerCursor {
					rm.drawerCursor--
				}
				break
			}
		}
	}
	active := 0
	for _, p := range rm.Players {
		if p.Conn != ConnLeft {
			active++
		}
	}
	if active >= rm.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}
	p := &Player{
		ID:       uuid.New().String(),
		UserID:   userID,
		Name:     name,
		Conn:     ConnConnected,
		JoinedAt: now,
		IsHost:   len(rm.Players) == 0,
	}
	rm.Players = append(rm.Players, p)
	return p, nil
}

// MarkDisconnected flags a dropped player. Seat and score are kept
// until the grace period expires.
func (rm *Room) MarkDisconnected(userID string, now time.Time) {
	if p := rm.player(userID); p != nil && p.Conn == ConnConnected {
		p.Conn = ConnDisconnected
		p.DisconnectedAt = now
	}
}

// MarkLeft removes a player from rotation for good. If the host
// leaves, the first remaining connected player inherits the role; the
// new host's user id is returned.
func (rm *Room) MarkLeft(userID string) (newHost string) {
	p := rm.player(userID)
	if p == nil || p.Conn == ConnLeft {
		return ""
	}
	wasHost := p.IsHost
	p.Conn = ConnLeft
	p.IsHost = false
	if !wasHost {
		return ""
	}
	for _, next := range rm.Players {
		if next.Conn == ConnConnected {
			next.IsHost = true
			return next.UserID
		}
	}
	return ""
}

// Ban marks a user persona non grata and removes their seat.
func (rm *Room) Ban(userID string) string {
	rm.banned[userID] = struct{}{}
	return rm.MarkLeft(userID)
}

// Start begins the game: host only, from the lobby (or from game over,
// which resets for a rematch), with at least two connected players.
func (rm *Room) Start(byUserID string, now time.Time) error {
	p := rm.player(byUserID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.IsHost {
		return ErrNotHost
	}
	if rm.State == StateGameOver {
		rm.Reset()
	}
	if rm.State != StateLobby {
		return ErrInvalidState
	}
	if rm.connectedCount() < 2 {
		return ErrGameNotReady
	}
	return rm.beginRound(now)
}

// beginRound rotates the drawer and enters word selection.
func (rm *Room) beginRound(now time.Time) error {
	drawer, err := rm.nextDrawer()
	if err != nil {
		return err
	}
	rm.RoundNumber++
	rm.State = StateWordSelection
	for _, p := range rm.Players {
		p.HasGuessed = false
	}
	rm.Round = &Round{
		Number:      rm.RoundNumber,
		DrawerID:    drawer.UserID,
		SelectionBy: now.Add(rm.Settings.SelectionTimeout),
		ScoreDeltas: make(map[string]int),
	}
	return nil
}

// nextDrawer walks the seats round-robin in join order, skipping
// anyone who is not connected.
func (rm *Room) nextDrawer() (*Player, error) {
	if rm.connectedCount() < 2 {
		return nil, ErrGameNotReady
	}
	for i := 0; i < len(rm.Players); i++ {
		p := rm.Players[rm.drawerCursor%len(rm.Players)]
		rm.drawerCursor++
		if p.Conn == ConnConnected {
			return p, nil
		}
	}
	return nil, ErrGameNotReady
}

// SelectWord is the drawer committing to one of the offered options
// and starts the drawing phase.
func (rm *Room) SelectWord(byUserID, word string, now time.Time) error {
	if rm.State != StateWordSelection {
		return ErrInvalidState
	}
	if rm.Round == nil || rm.Round.DrawerID != byUserID {
		return ErrNotDrawer
	}
	valid := false
	for _, opt := range rm.Round.Options {
		if strings.EqualFold(opt, word) {
			word = opt
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidWord
	}
	rm.Round.Word = word
	rm.Round.revealed = make([]bool, len([]rune(word)))
	rm.Round.StartedAt = now
	rm.Round.EndsAt = now.Add(rm.Settings.RoundDuration)
	rm.State = StateDrawing
	return nil
}

// EvaluateGuess runs the ordered guess checks and applies scoring for
// a correct guess. allGuessed reports that every connected non-drawer
// has now guessed, which ends the round.
func (rm *Room) EvaluateGuess(byUserID, text string, now time.Time) (Guess, bool) {
	g := Guess{PlayerID: byUserID, Text: text}
	if rm.State != StateDrawing || rm.Round == nil {
		g.Outcome = GuessInvalid
		return g, false
	}
	p := rm.player(byUserID)
	if p == nil {
		g.Outcome = GuessInvalid
		return g, false
	}
	g.Elapsed = now.Sub(rm.Round.StartedAt).Seconds()
	switch {
	case byUserID == rm.Round.DrawerID:
		g.Outcome = GuessIsDrawer
	case p.HasGuessed:
		g.Outcome = GuessAlreadyGuessed
	case strings.EqualFold(strings.TrimSpace(text), rm.Round.Word):
		g.Outcome = GuessCorrect
		g.Points = CalculatePoints(g.Elapsed, rm.Settings.RoundDuration.Seconds())
		p.HasGuessed = true
		p.Score += g.Points
		rm.Round.ScoreDeltas[byUserID] += g.Points
	default:
		switch wordbank.CheckGuess(rm.Round.Word, text) {
		case wordbank.MatchClose:
			g.Outcome = GuessClose
		default:
			g.Outcome = GuessWrong
		}
	}
	rm.Round.Guesses = append(rm.Round.Guesses, g)

	allGuessed := true
	for _, other := range rm.Players {
		if other.Conn != ConnConnected || other.UserID == rm.Round.DrawerID {
			continue
		}
		if !other.HasGuessed {
			allGuessed = false
			break
		}
	}
	return g, allGuessed
}

// EndRound closes the drawing phase, credits the drawer once from the
// guessers' haul, and parks the room in RoundEnd.
func (rm *Room) EndRound(now time.Time) map[string]int {
	if rm.Round == nil {
		return nil
	}
	sum := 0
	for userID, delta := range rm.Round.ScoreDeltas {
		if userID != rm.Round.DrawerID {
			sum += delta
		}
	}
	bonus := int(math.Round(float64(sum) * rm.Settings.DrawerMultiplier))
	if drawer := rm.player(rm.Round.DrawerID); drawer != nil && bonus > 0 {
		drawer.Score += bonus
		rm.Round.ScoreDeltas[rm.Round.DrawerID] += bonus
	}
	rm.State = StateRoundEnd
	rm.RoundEndedAt = now
	rm.RoundHistory = append(rm.RoundHistory, rm.Round)
	return rm.Round.ScoreDeltas
}

// IsGameOver reports whether every scheduled round has been played.
func (rm *Room) IsGameOver() bool {
	return rm.RoundNumber >= rm.Settings.RoundsPerGame && rm.State == StateRoundEnd ||
		rm.State == StateGameOver
}

// Advance moves past RoundEnd: the next round if any remain, game
// over otherwise.
func (rm *Room) Advance(now time.Time) error {
	if rm.State != StateRoundEnd {
		return ErrInvalidState
	}
	if rm.RoundNumber >= rm.Settings.RoundsPerGame {
		rm.State = StateGameOver
		rm.Round = nil
		return nil
	}
	return rm.beginRound(now)
}

// Reset returns the room to the lobby for a rematch: scores, rounds,
// and rotation cleared, seats kept.
func (rm *Room) Reset() {
	rm.State = StateLobby
	rm.Round = nil
	rm.RoundHistory = nil
	rm.RoundNumber = 0
	rm.RoundEndedAt = time.Time{}
	rm.drawerCursor = 0
	for _, p := range rm.Players {
		p.Score = 0
		p.HasGuessed = false
	}
}
