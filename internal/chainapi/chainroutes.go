package chainapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chainscribe/chainscribe/apiframework"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainexecservice"
	"github.com/chainscribe/chainscribe/chainservice"
	"github.com/chainscribe/chainscribe/chainstore"
)

func AddChainRoutes(mux *http.ServeMux, service chainservice.Service, execService chainexecservice.Service) {
	h := &handler{service: service, execService: execService}
	mux.HandleFunc("POST /chains", h.createChain)
	mux.HandleFunc("GET /chains", h.listChains)
	mux.HandleFunc("GET /chains/{id}", h.getChain)
	mux.HandleFunc("PUT /chains/{id}", h.updateChain)
	mux.HandleFunc("DELETE /chains/{id}", h.deleteChain)
	mux.HandleFunc("POST /chains/{id}/duplicate", h.duplicateChain)
	mux.HandleFunc("POST /chains/{id}/estimate", h.estimateChain)
	mux.HandleFunc("POST /chains/{id}/dry-run", h.dryRunChain)
	mux.HandleFunc("POST /chains/{id}/execute", h.executeChain)
	mux.HandleFunc("POST /chains/{id}/stream", h.streamChain)
}

type handler struct {
	service     chainservice.Service
	execService chainexecservice.Service
}

// Creates a new rule chain.
//
// The chain's step records are validated against the parameter catalog
// before anything is persisted.
func (h *handler) createChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chain, err := apiframework.Decode[chainstore.StoredChain](r) // @request chainstore.StoredChain
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}

	if err := h.service.Create(ctx, &chain); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusCreated, chain) // @response chainstore.StoredChain
}

// Retrieves a specific rule chain by ID, including all step records.
func (h *handler) getChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.GetOperation)
		return
	}

	chain, err := h.service.Get(ctx, id)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, chain) // @response chainstore.StoredChain
}

// Updates an existing rule chain, replacing its step records wholesale.
func (h *handler) updateChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.UpdateOperation)
		return
	}

	chain, err := apiframework.Decode[chainstore.StoredChain](r) // @request chainstore.StoredChain
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	// Ensure the ID in the URL matches the chain data
	if chain.ID != "" && chain.ID != id {
		err = fmt.Errorf("%w: ID in payload does not match URL", apiframework.ErrUnprocessableEntity)
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	chain.ID = id // enforce ID from URL
	if err := h.service.Update(ctx, &chain); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, chain) // @response chainstore.StoredChain
}

// Lists rule chains with cursor pagination, newest first.
func (h *handler) listChains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cursor, limit, err := paginationParams(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}

	chains, err := h.service.List(ctx, cursor, limit)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, chains) // @response []*chainstore.ChainMeta
}

// Deletes a rule chain and all of its step records.
func (h *handler) deleteChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain to delete.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.DeleteOperation)
		return
	}

	if err := h.service.Delete(ctx, id); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.DeleteOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, fmt.Sprintf("chain %s deleted", id)) // @response string
}

// Duplicates a rule chain under a fresh ID.
func (h *handler) duplicateChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain to duplicate.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.CreateOperation)
		return
	}

	chain, err := h.service.Duplicate(ctx, id)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusCreated, chain) // @response chainstore.StoredChain
}

type runRequest struct {
	SourceText string                     `json:"sourceText"`
	Overrides  *chainengine.ExecOverrides `json:"overrides,omitempty"`
}

// Computes the advisory local token estimate for a chain.
func (h *handler) estimateChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.ExecuteOperation)
		return
	}
	req, err := apiframework.Decode[runRequest](r) // @request chainapi.runRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	estimate, err := h.execService.Estimate(ctx, id, req.SourceText)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, estimate) // @response chainexecservice.EstimateResponse
}

// Asks the execution backend for its estimate without executing the chain.
func (h *handler) dryRunChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.ExecuteOperation)
		return
	}
	req, err := apiframework.Decode[runRequest](r) // @request chainapi.runRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	estimate, err := h.execService.DryRun(ctx, id, req.SourceText)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, estimate) // @response chainengine.Estimate
}

// Executes a chain to completion and returns the aggregated result.
//
// A concurrent execution of the same chain is rejected with a conflict
// rather than queued.
func (h *handler) executeChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.ExecuteOperation)
		return
	}
	req, err := apiframework.Decode[runRequest](r) // @request chainapi.runRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	resp, err := h.execService.Execute(ctx, &chainexecservice.ExecuteRequest{
		ChainID:    id,
		SourceText: req.SourceText,
		Overrides:  req.Overrides,
	})
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	_ = apiframework.Encode(w, r, http.StatusOK, resp) // @response chainexecservice.ExecuteResponse
}

// Executes a chain and streams incremental chunks as server-sent events.
//
// Each event carries a chunk, the terminal result, or an error; the stream
// ends with a [DONE] marker.
func (h *handler) streamChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := apiframework.GetPathParam(r, "id", "The unique identifier for the chain.")
	if id == "" {
		_ = apiframework.Error(w, r, fmt.Errorf("chain ID is required: %w", apiframework.ErrBadPathValue), apiframework.ExecuteOperation)
		return
	}
	req, err := apiframework.Decode[runRequest](r) // @request chainapi.runRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = apiframework.Error(w, r, fmt.Errorf("%w: streaming unsupported", apiframework.ErrInternalServerError), apiframework.ExecuteOperation)
		return
	}

	runID, stream, err := h.execService.ExecuteStream(ctx, &chainexecservice.ExecuteRequest{
		ChainID:    id,
		SourceText: req.SourceText,
		Overrides:  req.Overrides,
	})
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ExecuteOperation)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", runID)
	flusher.Flush()

	writeEvent := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for parcel := range stream {
		switch {
		case parcel.Err != nil:
			writeEvent(map[string]string{"error": parcel.Err.Error()})
		case parcel.Result != nil:
			writeEvent(map[string]any{"result": parcel.Result})
		default:
			writeEvent(map[string]string{"chunk": parcel.Chunk})
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func paginationParams(r *http.Request) (*time.Time, int, error) {
	limitStr := apiframework.GetQueryParam(r, "limit", "100", "The maximum number of items to return per page.")
	cursorStr := apiframework.GetQueryParam(r, "cursor", "", "An optional RFC3339Nano timestamp to fetch the next page of results.")

	var cursor *time.Time
	if cursorStr != "" {
		t, err := time.Parse(time.RFC3339Nano, cursorStr)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid cursor format, expected RFC3339Nano", apiframework.ErrUnprocessableEntity)
		}
		cursor = &t
	}

	limit := 100
	if limitStr != "" {
		i, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid limit format, expected integer", apiframework.ErrUnprocessableEntity)
		}
		if i < 1 {
			return nil, 0, fmt.Errorf("%w: limit must be positive", apiframework.ErrUnprocessableEntity)
		}
		limit = i
	}
	return cursor, limit, nil
}
