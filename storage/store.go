package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("record not found")
	UnexpectedDatabaseError = errors.New("unexpected database error")
)

// Record is what the engines hand to persistence: an opaque document
// keyed by room id. Kind separates canvas snapshots from finished game
// summaries in a shared table.
type Record struct {
	ID        string
	Kind      string
	Data      []byte
	UpdatedAt time.Time
}

const (
	KindCanvas = "canvas"
	KindGame   = "game"
)

// Store is the persistence seam. The engines never assume a backing
// store; anything with get/put/delete/list semantics can sit behind
// this.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, kind string) ([]Record, error)
}
