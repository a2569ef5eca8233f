package canvas

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"canvasclash/session"
	"canvasclash/storage"
)

// Service owns the canvas engines. Canvas rooms auto-create on first
// join; each room's engine is flushed to the store when it idles out.
type Service struct {
	mu      sync.Mutex
	engines map[string]*Engine
	reg     *session.Registry
	fabric  *session.Fabric
	store   storage.Store
	log     zerolog.Logger
}

func NewService(reg *session.Registry, fabric *session.Fabric, store storage.Store, log zerolog.Logger) *Service {
	return &Service{
		engines: make(map[string]*Engine),
		reg:     reg,
		fabric:  fabric,
		store:   store,
		log:     log,
	}
}

// Ensure returns the room's engine, creating and starting it if this
// is the first join.
func (s *Service) Ensure(roomID string) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[roomID]; ok {
		return eng
	}

	eng := NewEngine(roomID, s.reg, s.fabric, s.log)
	eng.OnSnapshot = s.persist
	s.engines[roomID] = eng
	s.reg.EnsureRoom(roomID, session.KindCanvas, eng.Inbox(), func() {
		s.teardown(roomID)
	})
	go eng.Run()
	return eng
}

func (s *Service) teardown(roomID string) {
	s.mu.Lock()
	eng, ok := s.engines[roomID]
	delete(s.engines, roomID)
	s.mu.Unlock()
	if ok {
		eng.Stop()
	}
}

func (s *Service) persist(roomID string, snapshot json.RawMessage) {
	if snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.Put(ctx, storage.Record{
		ID:   roomID,
		Kind: storage.KindCanvas,
		Data: snapshot,
	})
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist canvas snapshot")
	}
}

// Snapshot exposes the stored state of an idle room for the HTTP
// read-state endpoint.
func (s *Service) Snapshot(ctx context.Context, roomID string) (json.RawMessage, error) {
	rec, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}
