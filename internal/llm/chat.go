package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"acestudio/internal/settings"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// chatOnce performs a single chat-completion call. Any transport failure or
// non-2xx response is an error; the caller retries all of them identically,
// including 4xx responses.
func (g *Gateway) chatOnce(ctx context.Context, cfg settings.Snapshot, req Request) (Response, error) {
	payload := chatRequest{
		Model: cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: g.systemPrompt(cfg, req.Task)},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode chat request: %w", err)
	}

	endpoint := strings.TrimRight(cfg.ChatEndpoint, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.ChatAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.ChatAPIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("chat endpoint status %d: %s", resp.StatusCode, bodyPreview(raw))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode chat response: %w", err)
	}
	text := ""
	if len(decoded.Choices) > 0 {
		text = decoded.Choices[0].Message.Content
		if text == "" {
			text = decoded.Choices[0].Text
		}
	}
	return Response{
		Task:     req.Task,
		Output:   strings.TrimSpace(text),
		Provider: ProviderChat,
		Metadata: map[string]string{"model": cfg.ChatModel},
	}, nil
}

// ListModels fetches the model ids exposed by the chat endpoint. The
// endpoint and key arguments override the stored configuration when
// non-empty; requireEnabled additionally demands the chat provider be
// switched on.
func (g *Gateway) ListModels(ctx context.Context, endpoint, apiKey string, requireEnabled bool) ([]string, error) {
	cfg := g.settings.Get()
	resolvedEndpoint := strings.TrimSpace(endpoint)
	if resolvedEndpoint == "" {
		resolvedEndpoint = strings.TrimSpace(cfg.ChatEndpoint)
	}
	resolvedKey := apiKey
	if resolvedKey == "" {
		resolvedKey = cfg.ChatAPIKey
	}
	enabled := cfg.ChatEnabled || (!requireEnabled && resolvedEndpoint != "")
	if !enabled || resolvedEndpoint == "" {
		return nil, errors.New("chat endpoint is not configured or enabled")
	}

	url := strings.TrimRight(resolvedEndpoint, "/") + "/v1/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	if resolvedKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+resolvedKey)
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("models request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read models response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models endpoint status %d: %s", resp.StatusCode, bodyPreview(raw))
	}
	var decoded modelListResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	models := make([]string, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		if item.ID != "" {
			models = append(models, item.ID)
		}
	}
	sort.Strings(models)
	return models, nil
}

func bodyPreview(raw []byte) string {
	preview := strings.ReplaceAll(string(raw), "\n", " ")
	if len(preview) > 400 {
		preview = preview[:400]
	}
	return strings.TrimSpace(preview)
}
