package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
)

type capturedRequest struct {
	header http.Header
	path   string
	body   map[string]interface{}
}

func completionServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	seen := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.header = r.Header.Clone()
		seen.path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&seen.body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	return server, seen
}

func TestChat_OpenRouterDefaults(t *testing.T) {
	server, seen := completionServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)

	cfg := config.DefaultConfig()
	cfg.Companion.Provider = ""
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL + "/"

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "/chat/completions", seen.path)
	assert.Equal(t, "Bearer or-key", seen.header.Get("Authorization"))
	assert.Equal(t, "DotCompanion", seen.header.Get("X-Title"))
	assert.Equal(t, provider.GetDefaultModel(), seen.body["model"])
	assert.NotContains(t, seen.body, "max_tokens")
	assert.NotContains(t, seen.body, "temperature")
}

func TestChat_OpenAIBudgetAndHeaders(t *testing.T) {
	server, seen := completionServer(t, http.StatusOK, `{
		"choices": [{
			"message": {"content": [{"type":"text","text":"Hello "},{"type":"text","text":"Sam"}]},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
	}`)

	cfg := config.DefaultConfig()
	cfg.Companion.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	resp, err := provider.Chat(context.Background(), []Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hello"},
	}, "gpt-5", map[string]interface{}{"max_tokens": 128, "temperature": 0.3})
	require.NoError(t, err)

	assert.Equal(t, "Hello Sam", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-5", seen.body["model"])
	assert.Equal(t, float64(128), seen.body["max_tokens"])
	assert.Equal(t, 0.3, seen.body["temperature"])
	assert.Equal(t, "Bearer sk-openai", seen.header.Get("Authorization"))
	assert.Equal(t, "org_123", seen.header.Get("OpenAI-Organization"))
	assert.Empty(t, seen.header.Get("OpenAI-Project"))
}

func TestChat_OpenAIKeyFile(t *testing.T) {
	server, seen := completionServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	keyFile := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.Companion.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.APIKeyFile = keyFile

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-from-file", seen.header.Get("Authorization"))
}

func TestChat_ErrorStatusBecomesAPIError(t *testing.T) {
	server, _ := completionServer(t, http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits"}}`)

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.Contains(t, err.Error(), "status=402")
	assert.Contains(t, apiErr.Message, "Insufficient credits")
	assert.Contains(t, apiErr.Message, "Hint:")
}

func TestChat_RefusalIsAnError(t *testing.T) {
	server, _ := completionServer(t, http.StatusOK, `{"choices":[{"message":{"content":null,"refusal":"I can't help with that"}}]}`)

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestChat_NoChoicesIsEmptyReply(t *testing.T) {
	server, _ := completionServer(t, http.StatusOK, `{"choices":[]}`)

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
}

func TestChat_CanceledContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = provider.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, "", nil)
	assert.Error(t, err)
}

func TestChat_RejectsEmptyMessages(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	_, err = provider.Chat(context.Background(), nil, "", nil)
	assert.Error(t, err)
}

func TestBudget(t *testing.T) {
	maxTokens, temperature := budget(map[string]interface{}{"max_tokens": int64(50), "temperature": float32(0.5)})
	require.NotNil(t, maxTokens)
	require.NotNil(t, temperature)
	assert.Equal(t, 50, *maxTokens)
	assert.InDelta(t, 0.5, *temperature, 1e-6)

	maxTokens, temperature = budget(nil)
	assert.Nil(t, maxTokens)
	assert.Nil(t, temperature)
}
