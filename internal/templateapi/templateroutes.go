package templateapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chainscribe/chainscribe/apiframework"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/templateservice"
)

func AddTemplateRoutes(mux *http.ServeMux, service templateservice.Service, catalog *chainengine.Catalog) {
	h := &handler{service: service, catalog: catalog}
	mux.HandleFunc("POST /templates", h.createTemplate)
	mux.HandleFunc("GET /templates", h.listTemplates)
	mux.HandleFunc("GET /templates/{id}", h.getTemplate)
	mux.HandleFunc("PUT /templates/{id}", h.updateTemplate)
	mux.HandleFunc("DELETE /templates/{id}", h.deleteTemplate)
	mux.HandleFunc("GET /tasktypes", h.listTaskTypes)
	mux.HandleFunc("GET /tasktypes/{taskType}/schema", h.getTaskTypeSchema)
}

type handler struct {
	service templateservice.Service
	catalog *chainengine.Catalog
}

// Creates a new shared step template.
func (h *handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tmpl, err := apiframework.Decode[chainengine.TemplateSnapshot](r) // @request chainengine.TemplateSnapshot
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}

	if err := h.service.Create(ctx, &tmpl); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusCreated, tmpl) // @response chainengine.TemplateSnapshot
}

// Retrieves a template by ID.
func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the template.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("template ID is required: %w", apiframework.ErrBadPathValue), apiframework.GetOperation)
		return
	}

	tmpl, err := h.service.Get(ctx, id)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, tmpl) // @response chainengine.TemplateSnapshot
}

// Updates an existing template. Chains pick up the change on their next
// hydration; cached snapshots are not rewritten in place.
func (h *handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the template.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("template ID is required: %w", apiframework.ErrBadPathValue), apiframework.UpdateOperation)
		return
	}

	tmpl, err := apiframework.Decode[chainengine.TemplateSnapshot](r) // @request chainengine.TemplateSnapshot
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	if tmpl.ID != "" && tmpl.ID != id {
		err = fmt.Errorf("%w: ID in payload does not match URL", apiframework.ErrUnprocessableEntity)
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	tmpl.ID = id
	if err := h.service.Update(ctx, &tmpl); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, tmpl) // @response chainengine.TemplateSnapshot
}

// Lists templates with cursor pagination, newest first.
func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limitStr := apiframework.GetQueryParam(r, "limit", "100", "The maximum number of items to return per page.")
	cursorStr := apiframework.GetQueryParam(r, "cursor", "", "An optional RFC3339Nano timestamp to fetch the next page of results.")

	var cursor *time.Time
	if cursorStr != "" {
		t, err := time.Parse(time.RFC3339Nano, cursorStr)
		if err != nil {
			err = fmt.Errorf("%w: invalid cursor format, expected RFC3339Nano", apiframework.ErrUnprocessableEntity)
			_ = apiframework.Error(w, r, err, apiframework.ListOperation)
			return
		}
		cursor = &t
	}

	limit := 100
	if limitStr != "" {
		i, err := strconv.Atoi(limitStr)
		if err != nil {
			err = fmt.Errorf("%w: invalid limit format, expected integer", apiframework.ErrUnprocessableEntity)
			_ = apiframework.Error(w, r, err, apiframework.ListOperation)
			return
		}
		if i < 1 {
			err = fmt.Errorf("%w: limit must be positive", apiframework.ErrUnprocessableEntity)
			_ = apiframework.Error(w, r, err, apiframework.ListOperation)
			return
		}
		limit = i
	}

	templates, err := h.service.List(ctx, cursor, limit)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, templates) // @response []*chainengine.TemplateSnapshot
}

// Deletes a template. Chains referencing it degrade to placeholders on
// their next hydration.
func (h *handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the template to delete.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("template ID is required: %w", apiframework.ErrBadPathValue), apiframework.DeleteOperation)
		return
	}

	if err := h.service.Delete(ctx, id); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.DeleteOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, fmt.Sprintf("template %s deleted", id)) // @response string
}

// Lists the registered task types.
func (h *handler) listTaskTypes(w http.ResponseWriter, r *http.Request) {
	_ = apiframework.Encode(w, r, http.StatusOK, h.catalog.TaskTypes()) // @response []string
}

// Returns the parameter schema for a task type as an OpenAPI object schema.
func (h *handler) getTaskTypeSchema(w http.ResponseWriter, r *http.Request) {
	taskType := apiframework.GetPathParam(r, "taskType", "The task type to describe.")
	if taskType == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("task type is required: %w", apiframework.ErrBadPathValue), apiframework.GetOperation)
		return
	}

	schema, ok := h.catalog.SchemaFor(taskType)
	if !ok {
		err := fmt.Errorf("task type %q: %w", taskType, chainengine.ErrNotFound)
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, chainengine.ParameterSchemaToOpenAPI(schema)) // @response openapi3.Schema
}
