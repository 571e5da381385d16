package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acestudio/internal/settings"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-data")

func testStore(t *testing.T, fields map[string]any) *settings.Store {
	t.Helper()
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"), zerolog.Nop())
	if len(fields) > 0 {
		_, err := store.Update(fields)
		require.NoError(t, err)
	}
	return store
}

func newTestGenerator(t *testing.T, store *settings.Store, opts Options) *Generator {
	t.Helper()
	opts.Settings = store
	if opts.GenerationsDir == "" {
		opts.GenerationsDir = t.TempDir()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	opts.Logger = zerolog.Nop()
	return NewGenerator(opts)
}

func TestGenerateCoverDisabledProvider(t *testing.T) {
	store := testStore(t, nil) // provider defaults to none
	gen := newTestGenerator(t, store, Options{
		HTTPClient: &http.Client{Transport: failingTransport{t}},
	})

	assert.False(t, gen.Enabled())
	assert.Empty(t, gen.GenerateCover(context.Background(), "job-1", "a cover"))
}

func TestGenerateCoverEmptyPrompt(t *testing.T) {
	store := testStore(t, map[string]any{"image_generation_provider": settings.ProviderLocalAPI})
	gen := newTestGenerator(t, store, Options{
		HTTPClient: &http.Client{Transport: failingTransport{t}},
	})

	assert.Empty(t, gen.GenerateCover(context.Background(), "job-1", "   "))
}

type failingTransport struct{ t *testing.T }

func (f failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.t.Fatalf("unexpected HTTP call to %s", r.URL)
	return nil, nil
}

func TestLocalAPIProvider(t *testing.T) {
	var captured localAPIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(localAPIResponse{
			Images: []string{base64.StdEncoding.EncodeToString(pngBytes)},
		})
	}))
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderLocalAPI,
		"local_api_base_url":        srv.URL,
	})
	dir := t.TempDir()
	gen := newTestGenerator(t, store, Options{GenerationsDir: dir, HTTPClient: srv.Client()})

	path := gen.GenerateCover(context.Background(), "job-local", "ocean at dusk")
	require.NotEmpty(t, path)
	assert.Equal(t, "ocean at dusk", captured.Prompt)
	assert.Equal(t, 28, captured.Steps)
	assert.Equal(t, 5, captured.CFGScale)
	assert.Equal(t, CoverSize, captured.Width)
	assert.Equal(t, CoverSize, captured.Height)
	assert.Equal(t, "Euler a", captured.SamplerName)

	assertCoverFile(t, dir, "job-local", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestNodeGraphProvider(t *testing.T) {
	workflow := `{
		"3": {"class_type": "KSampler", "inputs": {"text": "%prompt%", "width": 512, "height": 768}},
		"9": {"inputs": {"nested": {"caption": "style: %prompt%"}}}
	}`
	var submitted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-42"})
	})
	mux.HandleFunc("/history/p-42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"p-42":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"sub","type":"output"}]}}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "out.png", r.URL.Query().Get("filename"))
		require.Equal(t, "sub", r.URL.Query().Get("subfolder"))
		_, _ = w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderNodeGraph,
		"node_graph_base_url":       srv.URL,
		"node_graph_workflow_json":  workflow,
	})
	dir := t.TempDir()
	gen := newTestGenerator(t, store, Options{GenerationsDir: dir, HTTPClient: srv.Client()})

	path := gen.GenerateCover(context.Background(), "job-graph", "neon city")
	require.NotEmpty(t, path)
	assertCoverFile(t, dir, "job-graph", path)

	require.NotEmpty(t, submitted["client_id"])
	graph := submitted["prompt"].(map[string]any)
	sampler := graph["3"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "neon city", sampler["text"])
	assert.EqualValues(t, CoverSize, sampler["width"])
	assert.EqualValues(t, CoverSize, sampler["height"])
	nested := graph["9"].(map[string]any)["inputs"].(map[string]any)["nested"].(map[string]any)
	assert.Equal(t, "style: neon city", nested["caption"])
}

func TestNodeGraphRequiresBaseURL(t *testing.T) {
	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderNodeGraph,
		"node_graph_base_url":       "",
		"node_graph_workflow_json":  `{"1":{"inputs":{"text":"%prompt%"}}}`,
	})
	gen := newTestGenerator(t, store, Options{
		HTTPClient: &http.Client{Transport: failingTransport{t}},
	})

	// Rejected as misconfiguration before any request goes out.
	assert.Empty(t, gen.GenerateCover(context.Background(), "job-nourl", "a cover"))
}

func TestNodeGraphHistoryShapeVariants(t *testing.T) {
	cases := map[string]string{
		"keyed by prompt id": `{"p-42":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"sub"}]}}}}`,
		"wrapped in history": `{"history":{"p-42":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"sub"}]}}}}}`,
		"entry as body":      `{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"sub"}]}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var viewType string
			mux := http.NewServeMux()
			mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-42"})
			})
			mux.HandleFunc("/history/p-42", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "out.png", r.URL.Query().Get("filename"))
				viewType = r.URL.Query().Get("type")
				_, _ = w.Write(pngBytes)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			store := testStore(t, map[string]any{
				"image_generation_provider": settings.ProviderNodeGraph,
				"node_graph_base_url":       srv.URL,
				"node_graph_workflow_json":  `{"1":{"inputs":{"text":"%prompt%"}}}`,
			})
			gen := newTestGenerator(t, store, Options{HTTPClient: srv.Client()})

			path := gen.GenerateCover(context.Background(), "job-shape", "any art")
			require.NotEmpty(t, path)
			// A missing image type defaults to the server's output folder.
			assert.Equal(t, "output", viewType)
		})
	}
}

func TestNodeGraphPromptInsideLists(t *testing.T) {
	workflow := `{
		"7": {"inputs": {"chain": [{"text": "%prompt%"}, [{"caption": "deep %prompt%", "width": 256, "height": 256}]]}}
	}`
	var submitted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-42"})
	})
	mux.HandleFunc("/history/p-42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"p-42":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"","type":"output"}]}}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderNodeGraph,
		"node_graph_base_url":       srv.URL,
		"node_graph_workflow_json":  workflow,
	})
	gen := newTestGenerator(t, store, Options{HTTPClient: srv.Client()})

	path := gen.GenerateCover(context.Background(), "job-list", "neon city")
	require.NotEmpty(t, path)

	chain := submitted["prompt"].(map[string]any)["7"].(map[string]any)["inputs"].(map[string]any)["chain"].([]any)
	first := chain[0].(map[string]any)
	assert.Equal(t, "neon city", first["text"])
	inner := chain[1].([]any)[0].(map[string]any)
	assert.Equal(t, "deep neon city", inner["caption"])
	assert.EqualValues(t, CoverSize, inner["width"])
	assert.EqualValues(t, CoverSize, inner["height"])
}

func TestRemoteQueueProvider(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Key "))
		var req queueSubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 28, req.Steps)
		assert.EqualValues(t, 5, req.Guidance)
		assert.Equal(t, 1, req.NumImages)
		assert.Equal(t, "png", req.Format)
		_ = json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-1",
			StatusURL:   srv.URL + "/status",
			ResponseURL: srv.URL + "/result",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := "IN_QUEUE"
		if polls.Add(1) >= 3 {
			status = "COMPLETED"
		}
		_ = json.NewEncoder(w).Encode(queueStatusResponse{Status: status})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"images":[{"url":"` + srv.URL + `/image.png"}]}`))
	})
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderRemoteQueue,
		"remote_queue_api_key":      "key-123",
	})
	dir := t.TempDir()
	gen := newTestGenerator(t, store, Options{
		GenerationsDir: dir,
		HTTPClient:     srv.Client(),
		QueueEndpoint:  srv.URL + "/submit",
	})

	path := gen.GenerateCover(context.Background(), "job-queue", "desert sunrise")
	require.NotEmpty(t, path)
	assertCoverFile(t, dir, "job-queue", path)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestRemoteQueueRespectsBudget(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-1",
			StatusURL:   srv.URL + "/status",
			ResponseURL: srv.URL + "/result",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(queueStatusResponse{Status: "IN_PROGRESS"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderRemoteQueue,
		"remote_queue_api_key":      "key-123",
	})
	gen := newTestGenerator(t, store, Options{
		HTTPClient:    srv.Client(),
		QueueEndpoint: srv.URL + "/submit",
		PollInterval:  time.Millisecond,
		PollBudget:    20 * time.Millisecond,
	})

	start := time.Now()
	path := gen.GenerateCover(context.Background(), "job-stuck", "never finishes")
	assert.Empty(t, path)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRemoteQueueStopsOnTerminalStatus(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-1",
			StatusURL:   srv.URL + "/status",
			ResponseURL: srv.URL + "/result",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		_ = json.NewEncoder(w).Encode(queueStatusResponse{Status: "FAILED"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		t.Error("result must not be fetched for a dead job")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderRemoteQueue,
		"remote_queue_api_key":      "key-123",
	})
	gen := newTestGenerator(t, store, Options{
		HTTPClient:    srv.Client(),
		QueueEndpoint: srv.URL + "/submit",
		PollInterval:  time.Millisecond,
		PollBudget:    time.Minute,
	})

	path := gen.GenerateCover(context.Background(), "job-dead", "doomed prompt")
	assert.Empty(t, path)
	assert.EqualValues(t, 1, polls.Load(), "a dead job must not be re-polled")
}

func TestPersistReplacesStaleCover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(localAPIResponse{
			Images: []string{base64.StdEncoding.EncodeToString(pngBytes)},
		})
	}))
	defer srv.Close()

	store := testStore(t, map[string]any{
		"image_generation_provider": settings.ProviderLocalAPI,
		"local_api_base_url":        srv.URL,
	})
	dir := t.TempDir()
	gen := newTestGenerator(t, store, Options{GenerationsDir: dir, HTTPClient: srv.Client()})

	first := gen.GenerateCover(context.Background(), "job-re", "take one")
	require.NotEmpty(t, first)
	second := gen.GenerateCover(context.Background(), "job-re", "take two")
	require.NotEmpty(t, second)

	covers, err := filepath.Glob(filepath.Join(dir, "job-re", "cover_*.png"))
	require.NoError(t, err)
	assert.Len(t, covers, 1, "regeneration must not accumulate covers")
}

func TestCoverFilesKeyedByProvider(t *testing.T) {
	dir := t.TempDir()
	gen := newTestGenerator(t, testStore(t, nil), Options{GenerationsDir: dir})

	first, err := gen.persist("job-sw", settings.ProviderLocalAPI, pngBytes)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(first), settings.ProviderLocalAPI)
	second, err := gen.persist("job-sw", settings.ProviderNodeGraph, pngBytes)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(second), settings.ProviderNodeGraph)

	covers, err := filepath.Glob(filepath.Join(dir, "job-sw", "cover_*.png"))
	require.NoError(t, err)
	assert.Len(t, covers, 2, "each backend keeps its own artifact")

	_, err = gen.persist("job-sw", settings.ProviderLocalAPI, pngBytes)
	require.NoError(t, err)
	covers, err = filepath.Glob(filepath.Join(dir, "job-sw", "cover_*.png"))
	require.NoError(t, err)
	assert.Len(t, covers, 2, "a backend replaces only its own previous cover")
}

func assertCoverFile(t *testing.T, dir, id, path string) {
	t.Helper()
	assert.True(t, strings.HasPrefix(path, filepath.Join(dir, id)), "cover outside record dir: %s", path)
	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "cover_"), "unexpected name %s", base)
	assert.True(t, strings.HasSuffix(base, ".png"), "unexpected name %s", base)
}
