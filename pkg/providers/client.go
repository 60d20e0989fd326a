package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// Only bounds calls made without a context deadline.
	defaultHTTPTimeout = 120 * time.Second
	maxErrorText       = 2000
)

type clientOptions struct {
	name    string
	apiBase string
	model   string
	proxy   string
	key     credential
	headers map[string]string
}

// client speaks the /chat/completions dialect shared by OpenRouter and OpenAI.
type client struct {
	name     string
	endpoint string
	model    string
	key      credential
	headers  http.Header
	http     *http.Client
}

func newClient(opts clientOptions) (*client, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(opts.apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("%s API base not configured", opts.name)
	}

	hc := &http.Client{Timeout: defaultHTTPTimeout}
	if proxy := strings.TrimSpace(opts.proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse %s proxy: %w", opts.name, err)
		}
		hc.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	headers := http.Header{}
	for k, v := range opts.headers {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			headers.Set(k, v)
		}
	}

	return &client{
		name:     opts.name,
		endpoint: apiBase + "/chat/completions",
		model:    strings.TrimSpace(opts.model),
		key:      opts.key,
		headers:  headers,
		http:     hc,
	}, nil
}

// APIError is a non-2xx answer from a completion backend.
type APIError struct {
	Backend string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.Backend, e.Status, e.Message)
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content messageContent `json:"content"`
			Refusal string         `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *UsageInfo `json:"usage"`
}

// messageContent accepts a plain string or a list of text parts.
type messageContent string

func (m *messageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = messageContent(s)
		return nil
	}
	var parts []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		*m = ""
		return nil
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		} else {
			b.WriteString(p.Content)
		}
	}
	*m = messageContent(b.String())
	return nil
}

func (c *client) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%s request has no messages", c.name)
	}
	req := completionRequest{Model: strings.TrimSpace(model), Messages: messages}
	if req.Model == "" {
		req.Model = c.model
	}
	req.MaxTokens, req.Temperature = budget(options)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", c.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.name, err)
	}
	token, err := c.key.bearer()
	if err != nil {
		return nil, fmt.Errorf("%s auth: %w", c.name, err)
	}
	for k, v := range c.headers {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{
			Backend: c.name,
			Status:  resp.StatusCode,
			Message: withHint(c.name, errorText(body)),
		}
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", c.name, err)
	}
	if len(decoded.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop", Usage: decoded.Usage}, nil
	}
	choice := decoded.Choices[0]
	content := string(choice.Message.Content)
	if strings.TrimSpace(content) == "" {
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return nil, fmt.Errorf("%s model refused: %s", c.name, refusal)
		}
	}
	return &LLMResponse{Content: content, FinishReason: choice.FinishReason, Usage: decoded.Usage}, nil
}

func (c *client) GetDefaultModel() string {
	return c.model
}

// budget pulls max_tokens and temperature out of per-call options. Numeric
// values may arrive as any int or float type.
func budget(options map[string]interface{}) (*int, *float64) {
	var maxTokens *int
	var temperature *float64
	if v, ok := asFloat(options["max_tokens"]); ok {
		n := int(v)
		maxTokens = &n
	}
	if v, ok := asFloat(options["temperature"]); ok {
		temperature = &v
	}
	return maxTokens, temperature
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// errorText prefers the structured error message and falls back to the
// truncated raw body.
func errorText(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, msg := range []string{payload.Error.Message, payload.Message} {
			if msg = strings.TrimSpace(msg); msg != "" {
				return msg
			}
		}
	}
	raw := strings.TrimSpace(string(body))
	switch {
	case raw == "":
		return "empty response body"
	case len(raw) > maxErrorText:
		return raw[:maxErrorText] + "..."
	}
	return raw
}
