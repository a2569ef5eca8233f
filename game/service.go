package game

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"canvasclash/session"
	"canvasclash/storage"
	"canvasclash/wordbank"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
	codeAttempts = 100
)

// Service owns the game engines. Unlike canvas rooms, game rooms are
// created explicitly and joined by code.
type Service struct {
	mu      sync.Mutex
	engines map[string]*Engine
	reg     *session.Registry
	fabric  *session.Fabric
	bank    *wordbank.Bank
	store   storage.Store
	grace   time.Duration
	log     zerolog.Logger
}

func NewService(reg *session.Registry, fabric *session.Fabric, bank *wordbank.Bank, store storage.Store, grace time.Duration, log zerolog.Logger) *Service {
	return &Service{
		engines: make(map[string]*Engine),
		reg:     reg,
		fabric:  fabric,
		bank:    bank,
		store:   store,
		grace:   grace,
		log:     log,
	}
}

// CreateRoom allocates a collision-free room code, starts the engine,
// and returns the code.
func (s *Service) CreateRoom(settings Settings) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	eng := NewEngine(code, settings, s.reg, s.fabric, s.bank, s.grace, s.log)
	eng.OnSummary = s.persistSummary
	s.engines[code] = eng
	s.reg.EnsureRoom(code, session.KindGame, eng.Inbox(), func() {
		s.teardown(code)
	})
	go eng.Run()
	s.log.Info().Str("room_code", code).Msg("game room created")
	return code, nil
}

func (s *Service) newCode() (string, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		for i := range buf {
			buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := s.engines[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceFull
}

// Exists reports whether a room code names a live game.
func (s *Service) Exists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.engines[code]
	return ok
}

// RoomInfo is the public listing shape for the HTTP surface.
type RoomInfo struct {
	Code        string `json:"code"`
	State       State  `json:"state"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
}

func (s *Service) ListRooms() []RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomInfo, 0, len(s.engines))
	for code, eng := range s.engines {
		out = append(out, RoomInfo{
			Code:        code,
			State:       eng.State(),
			PlayerCount: len(s.reg.ListParticipants(code)),
			MaxPlayers:  eng.MaxPlayers(),
		})
	}
	return out
}

func (s *Service) teardown(code string) {
	s.mu.Lock()
	eng, ok := s.engines[code]
	delete(s.engines, code)
	s.mu.Unlock()
	if ok {
		eng.Stop()
	}
	s.bank.ResetGameWords(code)
}

func (s *Service) persistSummary(code string, summary json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.Put(ctx, storage.Record{
		ID:   "game:" + code,
		Kind: storage.KindGame,
		Data: summary,
	})
	if err != nil {
		s.log.Error().Err(err).Str("room_code", code).Msg("failed to persist game summary")
	}
}
