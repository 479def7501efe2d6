package chainservice

import (
	"context"
	"fmt"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainstore"
	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/google/uuid"
)

type Service interface {
	// Create a new rule chain
	Create(ctx context.Context, chain *chainstore.StoredChain) error

	// Get a rule chain by ID
	Get(ctx context.Context, id string) (*chainstore.StoredChain, error)

	// Update an existing rule chain
	Update(ctx context.Context, chain *chainstore.StoredChain) error

	// Delete a rule chain
	Delete(ctx context.Context, id string) error

	// List rule chains with pagination
	List(ctx context.Context, cursor *time.Time, limit int) ([]*chainstore.ChainMeta, error)

	// Duplicate copies a chain under a fresh ID
	Duplicate(ctx context.Context, id string) (*chainstore.StoredChain, error)
}

type service struct {
	db        libdb.DBManager
	assembler *chainengine.Assembler
}

func New(db libdb.DBManager, catalog *chainengine.Catalog) Service {
	return &service{
		db:        db,
		assembler: chainengine.NewAssembler(catalog),
	}
}

// validate assembles the payload into a step list, which rejects unknown
// task types, malformed override JSON, and broken order sequences.
func (s *service) validate(chain *chainstore.StoredChain) error {
	if chain.Name == "" {
		return chainengine.NewValidationError("name", "chain name is required", nil)
	}
	if _, err := s.assembler.FromStored(&chain.ChainPayload); err != nil {
		return err
	}
	return nil
}

func (s *service) Create(ctx context.Context, chain *chainstore.StoredChain) error {
	if chain.ID == "" {
		chain.ID = uuid.NewString()
	}
	if err := s.validate(chain); err != nil {
		return err
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	count, err := storeInstance.EstimateChainCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to estimate chain count: %w", err)
	}
	if err := storeInstance.EnforceMaxRowCount(ctx, count); err != nil {
		return err
	}
	return storeInstance.CreateChain(ctx, chain)
}

func (s *service) Get(ctx context.Context, id string) (*chainstore.StoredChain, error) {
	if id == "" {
		return nil, chainengine.NewValidationError("id", "chain ID is required", nil)
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	chain, err := storeInstance.GetChain(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain: %w", err)
	}
	return chain, nil
}

func (s *service) Update(ctx context.Context, chain *chainstore.StoredChain) error {
	if chain.ID == "" {
		return chainengine.NewValidationError("id", "chain ID is required", nil)
	}
	if err := s.validate(chain); err != nil {
		return err
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	return storeInstance.UpdateChain(ctx, chain)
}

func (s *service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return chainengine.NewValidationError("id", "chain ID is required", nil)
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	return storeInstance.DeleteChain(ctx, id)
}

func (s *service) List(ctx context.Context, cursor *time.Time, limit int) ([]*chainstore.ChainMeta, error) {
	if limit <= 0 {
		limit = 100
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	return storeInstance.ListChains(ctx, cursor, limit)
}

func (s *service) Duplicate(ctx context.Context, id string) (*chainstore.StoredChain, error) {
	source, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	copyChain := &chainstore.StoredChain{ChainPayload: source.ChainPayload}
	copyChain.ID = uuid.NewString()
	copyChain.Name = source.Name + " (copy)"
	if err := s.Create(ctx, copyChain); err != nil {
		return nil, err
	}
	return copyChain, nil
}
