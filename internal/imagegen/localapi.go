package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// localAPIProvider calls a locally hosted txt2img HTTP API. Unlike the queue
// backend this is a single synchronous request; the budget bounds how long
// the local server may grind on one image.
type localAPIProvider struct {
	client  *http.Client
	baseURL string
	budget  time.Duration
}

type localAPIRequest struct {
	Prompt      string `json:"prompt"`
	Steps       int    `json:"steps"`
	CFGScale    int    `json:"cfg_scale"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SamplerName string `json:"sampler_name"`
}

type localAPIResponse struct {
	Images []string `json:"images"`
}

func (p *localAPIProvider) generate(ctx context.Context, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	payload := localAPIRequest{
		Prompt:      prompt,
		Steps:       28,
		CFGScale:    5,
		Width:       CoverSize,
		Height:      CoverSize,
		SamplerName: "Euler a",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("local api: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local api: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("local api: http %d", resp.StatusCode)
	}

	var out localAPIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("local api: decode response: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0] == "" {
		return nil, errors.New("local api: response contains no images")
	}
	data, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return nil, fmt.Errorf("local api: decode image: %w", err)
	}
	return data, nil
}
