package execbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libkvstore"
	"github.com/stretchr/testify/require"
)

func testRequest() *chainengine.ExecRequest {
	return &chainengine.ExecRequest{
		Payload: &chainengine.ChainPayload{
			ID:   "chain-1",
			Name: "polish",
			Steps: []chainengine.PrivateStepRecord{
				{Order: 0, Enabled: true, TaskType: chainengine.TaskTypeSummarize},
			},
		},
		SourceText: "It was a dark and stormy night.",
	}
}

func TestUnit_HTTPBackend_ExecuteChain(t *testing.T) {
	var gotPath string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var req chainengine.ExecRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "polish", req.Payload.Name)

		result := chainengine.ExecutionResult{
			ChainName:       req.Payload.Name,
			Status:          chainengine.StatusSuccess,
			FinalOutputText: "A stormy night.",
			Steps: []chainengine.StepResult{
				{Order: 0, TaskType: chainengine.TaskTypeSummarize, Status: chainengine.StepStatusSuccess},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "secret-token", nil, nil)
	result, err := backend.ExecuteChain(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "/v1/chains/execute", gotPath)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.Equal(t, chainengine.StatusSuccess, result.Status)
	require.Equal(t, "A stormy night.", result.FinalOutputText)
}

func TestUnit_HTTPBackend_DryRunChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chains/dry-run", r.URL.Path)
		estimate := chainengine.Estimate{TotalTokens: 1200, Tier: chainengine.TierLow}
		require.NoError(t, json.NewEncoder(w).Encode(estimate))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "", nil, nil)
	estimate, err := backend.DryRunChain(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1200, estimate.TotalTokens)
	require.Equal(t, chainengine.TierLow, estimate.Tier)
}

func TestUnit_HTTPBackend_StreamChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")

		events := []streamEvent{
			{Chunk: "A stormy "},
			{Chunk: "night."},
			{Result: &chainengine.ExecutionResult{
				ChainName: "polish",
				Status:    chainengine.StatusSuccess,
			}},
		}
		for _, ev := range events {
			data, err := json.Marshal(ev)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "", nil, nil)
	stream, err := backend.StreamChain(context.Background(), testRequest())
	require.NoError(t, err)

	var chunks []string
	var result *chainengine.ExecutionResult
	for parcel := range stream {
		if parcel.Chunk != "" {
			chunks = append(chunks, parcel.Chunk)
		}
		if parcel.Result != nil {
			result = parcel.Result
		}
		require.NoError(t, parcel.Err)
	}
	require.Equal(t, []string{"A stormy ", "night."}, chunks)
	require.NotNil(t, result)
	require.Equal(t, chainengine.StatusSuccess, result.Status)
}

func TestUnit_HTTPBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"backend exploded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "", nil, nil)
	_, err := backend.ExecuteChain(context.Background(), testRequest())
	require.Error(t, err)
}

func TestUnit_CredentialStore_SealRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := libkvstore.NewInMemManager()
	secret := []byte("0123456789abcdef0123456789abcdef")

	creds, err := NewCredentialStore(kv, secret)
	require.NoError(t, err)

	require.NoError(t, creds.Store(ctx, "remote", "api-token-42"))

	token, err := creds.Load(ctx, "remote")
	require.NoError(t, err)
	require.Equal(t, "api-token-42", token)

	// missing credential is an empty token, not an error
	token, err = creds.Load(ctx, "absent")
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, creds.Delete(ctx, "remote"))
	token, err = creds.Load(ctx, "remote")
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestUnit_CredentialStore_DigestDetectsTampering(t *testing.T) {
	ctx := context.Background()
	kv := libkvstore.NewInMemManager()
	secret := []byte("0123456789abcdef0123456789abcdef")

	creds, err := NewCredentialStore(kv, secret)
	require.NoError(t, err)
	require.NoError(t, creds.Store(ctx, "remote", "api-token-42"))

	exec, err := kv.Executor(ctx)
	require.NoError(t, err)
	raw, err := exec.Get(ctx, credentialKeyPrefix+"remote")
	require.NoError(t, err)

	var sealed sealedCredential
	require.NoError(t, json.Unmarshal(raw, &sealed))

	// Flip one ciphertext bit behind the store's back.
	sealed.Ciphertext[0] ^= 0x01
	tampered, err := json.Marshal(sealed)
	require.NoError(t, err)
	require.NoError(t, exec.Set(ctx, credentialKeyPrefix+"remote", tampered))

	_, err = creds.Load(ctx, "remote")
	require.ErrorContains(t, err, "digest verification")

	// A record copied under another backend's key must not verify either.
	require.NoError(t, creds.Store(ctx, "remote", "api-token-42"))
	raw, err = exec.Get(ctx, credentialKeyPrefix+"remote")
	require.NoError(t, err)
	require.NoError(t, exec.Set(ctx, credentialKeyPrefix+"other", raw))

	_, err = creds.Load(ctx, "other")
	require.ErrorContains(t, err, "digest verification")
}

func TestUnit_Snippet_CutsOnRuneBoundary(t *testing.T) {
	require.Equal(t, "short", snippet("short"))

	// A multi-byte rune straddling the limit must be dropped whole.
	text := strings.Repeat("a", snippetLimit-1) + "界界"
	got := snippet(text)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", snippetLimit-1), got)

	ascii := strings.Repeat("b", snippetLimit+10)
	require.Equal(t, strings.Repeat("b", snippetLimit), snippet(ascii))
}

func TestUnit_BuildPrompt_DeterministicParameterOrder(t *testing.T) {
	record := chainengine.PrivateStepRecord{
		TaskType: chainengine.TaskTypeRewrite,
		Parameters: map[string]chainengine.ResolvedParameter{
			"tone":      {Value: "formal"},
			"intensity": {Value: 2},
		},
		CustomInstruction: "Keep names unchanged.",
	}

	system1, prompt1 := buildPrompt(record, "some text")
	system2, prompt2 := buildPrompt(record, "some text")
	require.Equal(t, system1, system2)
	require.Equal(t, prompt1, prompt2)
	require.Contains(t, prompt1, "- intensity: 2")
	require.Contains(t, prompt1, "- tone: formal")
	require.Contains(t, prompt1, "Keep names unchanged.")
	require.Contains(t, prompt1, "Text:\nsome text")
}
