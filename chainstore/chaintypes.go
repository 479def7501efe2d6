// Package chainstore persists rule chains: the chain row plus its private
// steps and template associations, which together reconstruct the wire
// payload the engine assembles and consumes.
package chainstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
)

// MAXLIMIT bounds a single list page.
const MAXLIMIT = 1000

var (
	ErrNotFound           = errors.New("chain not found")
	ErrLimitParamExceeded = errors.New("limit parameter exceeds maximum")
)

// StoredChain is a persisted chain: the wire payload plus row timestamps.
type StoredChain struct {
	chainengine.ChainPayload
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChainMeta is the listing view of a chain, without its step arrays.
type ChainMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsTemplate  bool      `json:"isTemplate"`
	NovelID     string    `json:"novelId,omitempty"`
	StepCount   int       `json:"stepCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the persistence contract for rule chains.
type Store interface {
	CreateChain(ctx context.Context, chain *StoredChain) error
	GetChain(ctx context.Context, id string) (*StoredChain, error)
	UpdateChain(ctx context.Context, chain *StoredChain) error
	DeleteChain(ctx context.Context, id string) error
	ListChains(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*ChainMeta, error)
	EstimateChainCount(ctx context.Context) (int64, error)
	EnforceMaxRowCount(ctx context.Context, count int64) error
}

func checkRowsAffected(result sql.Result) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
