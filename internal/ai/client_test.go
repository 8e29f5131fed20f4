package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

type settingsKey string

func (k settingsKey) Get() models.Settings {
	doc := models.DefaultSettings()
	doc.OpenAIAPIKey = string(k)
	return doc
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key settingsKey, envKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: envKey, BaseURL: srv.URL + "/v1"}, key, zap.NewNop())
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))
	return path
}

func TestTranscribeUsesSettingsKeyAndModel(t *testing.T) {
	var auth, model, path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		model = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello world"}`)
	}, "sk-settings", "sk-env")

	text, err := client.Transcribe(context.Background(), writeAudio(t), models.TranscriptionModelGPT4o)
	require.NoError(t, err)

	assert.Equal(t, "hello world", text)
	assert.Equal(t, "/v1/audio/transcriptions", path)
	assert.Equal(t, "Bearer sk-settings", auth)
	assert.Equal(t, models.TranscriptionModelGPT4o, model)
}

func TestEnvironmentKeyIsFallback(t *testing.T) {
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}, "", "sk-env")

	_, err := client.Transcribe(context.Background(), writeAudio(t), "not-a-model")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-env", auth)
}

func TestMissingKeyIsConfigError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, "", "")

	assert.ErrorIs(t, client.Ready(), apperr.ErrMissingAPIKey)

	_, err := client.Summarize(context.Background(), []string{"alice: hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestSummarizeSendsTranscript(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  We agreed to ship on Friday.  "},"finish_reason":"stop"}]}`)
	}, "sk-settings", "")

	summary, err := client.Summarize(context.Background(), []string{"alice: ship friday?", "bob: yes"})
	require.NoError(t, err)

	assert.Equal(t, "We agreed to ship on Friday.", summary)
	assert.Equal(t, defaultChatModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "alice: ship friday?\nbob: yes", req.Messages[1].Content)
}

func TestSummarizeEmptyConversation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, "sk-settings", "")

	_, err := client.Summarize(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestExtractTasks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"- Alice: write release notes\n2. Bob: tag v1.2\n\n* update the changelog"},"finish_reason":"stop"}]}`)
	}, "sk-settings", "")

	tasks, err := client.ExtractTasks(context.Background(), []string{"alice: notes", "bob: tag"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice: write release notes", "Bob: tag v1.2", "update the changelog"}, tasks)
}

func TestParseTasksNone(t *testing.T) {
	assert.Empty(t, parseTasks("- none"))
	assert.Empty(t, parseTasks(""))
}

func TestAPIErrorIsExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}, "sk-bad", "")

	_, err := client.Summarize(context.Background(), []string{"alice: hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestBreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	}, "sk-settings", "")

	for i := 0; i < 5; i++ {
		_, err := client.Summarize(context.Background(), []string{"alice: hi"})
		require.Error(t, err)
	}
	require.Equal(t, int32(5), calls.Load())

	_, err := client.Summarize(context.Background(), []string{"alice: hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, int32(5), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}, "sk-settings", "")

	for i := 0; i < 7; i++ {
		_, _ = client.Summarize(context.Background(), []string{"alice: hi"})
	}
	assert.Equal(t, int32(7), calls.Load())
}
