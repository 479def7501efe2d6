package templateservice

import (
	"context"
	"fmt"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/chainscribe/chainscribe/templatestore"
	"github.com/google/uuid"
)

type Service interface {
	// Create a new step template
	Create(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error

	// Get a template by ID
	Get(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error)

	// Update an existing template
	Update(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error

	// Delete a template
	Delete(ctx context.Context, id string) error

	// List templates with pagination
	List(ctx context.Context, cursor *time.Time, limit int) ([]*chainengine.TemplateSnapshot, error)

	// GetTemplate satisfies chainengine.TemplateFetcher for chain hydration
	GetTemplate(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error)
}

var _ chainengine.TemplateFetcher = Service(nil)

type service struct {
	db      libdb.DBManager
	catalog *chainengine.Catalog
}

func New(db libdb.DBManager, catalog *chainengine.Catalog) Service {
	return &service{db: db, catalog: catalog}
}

func (s *service) validate(tmpl *chainengine.TemplateSnapshot) error {
	if tmpl.Name == "" {
		return chainengine.NewValidationError("name", "template name is required", nil)
	}
	if tmpl.TaskType == "" {
		return chainengine.NewValidationError("taskType", "task type is required", nil)
	}
	if _, ok := s.catalog.SchemaFor(tmpl.TaskType); !ok {
		return chainengine.NewValidationError("taskType", fmt.Sprintf("unknown task type %q", tmpl.TaskType), chainengine.ErrNotFound)
	}
	return nil
}

func (s *service) Create(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	if err := s.validate(tmpl); err != nil {
		return err
	}
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	count, err := storeInstance.EstimateTemplateCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to estimate template count: %w", err)
	}
	if err := storeInstance.EnforceMaxRowCount(ctx, count); err != nil {
		return err
	}
	return storeInstance.CreateTemplate(ctx, tmpl)
}

func (s *service) Get(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error) {
	if id == "" {
		return nil, chainengine.NewValidationError("id", "template ID is required", nil)
	}
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	tmpl, err := storeInstance.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func (s *service) Update(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	if tmpl.ID == "" {
		return chainengine.NewValidationError("id", "template ID is required", nil)
	}
	if err := s.validate(tmpl); err != nil {
		return err
	}
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	return storeInstance.UpdateTemplate(ctx, tmpl)
}

func (s *service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return chainengine.NewValidationError("id", "template ID is required", nil)
	}
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	return storeInstance.DeleteTemplate(ctx, id)
}

func (s *service) List(ctx context.Context, cursor *time.Time, limit int) ([]*chainengine.TemplateSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	return storeInstance.ListTemplates(ctx, cursor, limit)
}

// GetTemplate resolves a template for hydration. Missing templates map to
// the engine's sentinel so hydration can degrade to a placeholder.
func (s *service) GetTemplate(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error) {
	storeInstance := templatestore.New(s.db.WithoutTransaction())
	tmpl, err := storeInstance.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", chainengine.ErrTemplateNotFound, id)
	}
	return tmpl, nil
}
