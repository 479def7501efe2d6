// Package execbackend provides execution-backend clients for the chain
// engine: an HTTP JSON client speaking the backend contract (with SSE
// streaming) and a native ollama runner for local single-process setups.
package execbackend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainscribe/chainscribe/apiframework"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libroutine"
	"github.com/chainscribe/chainscribe/libtracker"
)

var _ chainengine.ExecutionBackend = (*HTTPBackend)(nil)

// HTTPBackend implements the execution-backend contract over HTTP JSON.
// A circuit breaker guards the backend so a dead endpoint fails fast
// instead of queueing timeouts.
type HTTPBackend struct {
	client  *http.Client
	baseURL string
	token   string
	breaker *libroutine.Routine
	tracker libtracker.ActivityTracker
}

// NewHTTPBackend creates a backend client for baseURL. An empty token sends
// no Authorization header.
func NewHTTPBackend(baseURL, token string, client *http.Client, tracker libtracker.ActivityTracker) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &HTTPBackend{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		breaker: libroutine.NewRoutine(3, 30*time.Second),
		tracker: tracker,
	}
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	var resp *http.Response
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = b.client.Do(req)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteChain runs the chain to completion on the remote backend.
func (b *HTTPBackend) ExecuteChain(ctx context.Context, req *chainengine.ExecRequest) (*chainengine.ExecutionResult, error) {
	reportErr, _, end := b.tracker.Start(ctx, "execute", "exec_backend", "chain_name", req.Payload.Name)
	defer end()

	resp, err := b.post(ctx, "/v1/chains/execute", req, "")
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("backend execute call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := apiframework.HandleAPIError(resp)
		reportErr(err)
		return nil, err
	}

	var result chainengine.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		reportErr(err)
		return nil, fmt.Errorf("failed to decode execution result: %w", err)
	}
	return &result, nil
}

// DryRunChain asks the remote backend for its cost estimate.
func (b *HTTPBackend) DryRunChain(ctx context.Context, req *chainengine.ExecRequest) (*chainengine.Estimate, error) {
	reportErr, _, end := b.tracker.Start(ctx, "dry_run", "exec_backend", "chain_name", req.Payload.Name)
	defer end()

	resp, err := b.post(ctx, "/v1/chains/dry-run", req, "")
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("backend dry-run call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := apiframework.HandleAPIError(resp)
		reportErr(err)
		return nil, err
	}

	var estimate chainengine.Estimate
	if err := json.NewDecoder(resp.Body).Decode(&estimate); err != nil {
		reportErr(err)
		return nil, fmt.Errorf("failed to decode estimate: %w", err)
	}
	return &estimate, nil
}

// streamEvent is the SSE wire shape of one stream event.
type streamEvent struct {
	Chunk  string                       `json:"chunk,omitempty"`
	Result *chainengine.ExecutionResult `json:"result,omitempty"`
	Error  string                       `json:"error,omitempty"`
}

// StreamChain runs the chain on the remote backend and consumes its SSE
// stream. The returned channel carries chunks followed by one terminal
// parcel; it closes when the stream ends.
func (b *HTTPBackend) StreamChain(ctx context.Context, req *chainengine.ExecRequest) (<-chan chainengine.StreamParcel, error) {
	resp, err := b.post(ctx, "/v1/chains/stream", req, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("backend stream call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiframework.HandleAPIError(resp)
	}

	ch := make(chan chainengine.StreamParcel)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		deliver := func(parcel chainengine.StreamParcel) bool {
			select {
			case ch <- parcel:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				deliver(chainengine.StreamParcel{Err: fmt.Errorf("malformed stream event: %w", err)})
				return
			}
			switch {
			case event.Error != "":
				deliver(chainengine.StreamParcel{Err: fmt.Errorf("backend stream error: %s", event.Error)})
				return
			case event.Result != nil:
				deliver(chainengine.StreamParcel{Result: event.Result})
				return
			default:
				if !deliver(chainengine.StreamParcel{Chunk: event.Chunk}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			deliver(chainengine.StreamParcel{Err: fmt.Errorf("stream read failed: %w", err)})
		}
	}()
	return ch, nil
}
