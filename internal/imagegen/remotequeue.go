package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultQueueEndpoint = "https://queue.fal.run/fal-ai/flux/dev"

// remoteQueueProvider drives a hosted async image queue: submit the job, poll
// the returned status URL until the queue reports completion, then fetch the
// result document and download the first image.
type remoteQueueProvider struct {
	client       *http.Client
	apiKey       string
	endpoint     string
	pollInterval time.Duration
	pollBudget   time.Duration
}

type queueSubmitRequest struct {
	Prompt    string         `json:"prompt"`
	ImageSize map[string]int `json:"image_size"`
	Steps     int            `json:"num_inference_steps"`
	Guidance  float64        `json:"guidance_scale"`
	NumImages int            `json:"num_images"`
	Format    string         `json:"output_format"`
}

type queueSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueStatusResponse struct {
	Status string `json:"status"`
}

type queueResultResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (p *remoteQueueProvider) generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, errors.New("remote queue: API key is missing")
	}
	endpoint := p.endpoint
	if endpoint == "" {
		endpoint = defaultQueueEndpoint
	}

	submit, err := p.submit(ctx, endpoint, prompt)
	if err != nil {
		return nil, err
	}
	if submit.StatusURL == "" || submit.ResponseURL == "" {
		return nil, errors.New("remote queue: submit response missing status or response url")
	}

	if err := p.await(ctx, submit.StatusURL); err != nil {
		return nil, err
	}

	var result queueResultResponse
	if err := p.getJSON(ctx, submit.ResponseURL, &result); err != nil {
		return nil, fmt.Errorf("remote queue result: %w", err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return nil, errors.New("remote queue: result contains no images")
	}
	return p.download(ctx, result.Images[0].URL)
}

func (p *remoteQueueProvider) submit(ctx context.Context, endpoint, prompt string) (*queueSubmitResponse, error) {
	payload := queueSubmitRequest{
		Prompt:    prompt,
		ImageSize: map[string]int{"width": CoverSize, "height": CoverSize},
		Steps:     28,
		Guidance:  5,
		NumImages: 1,
		Format:    "png",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote queue: encode submit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote queue submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote queue submit: http %d", resp.StatusCode)
	}
	var out queueSubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("remote queue submit: decode: %w", err)
	}
	return &out, nil
}

// await polls the status URL until the job reports COMPLETED or the budget
// runs out. Only IN_QUEUE and IN_PROGRESS mean the job is still running; any
// other status is the queue giving up on the job, so polling stops there
// instead of burning the rest of the budget.
func (p *remoteQueueProvider) await(ctx context.Context, statusURL string) error {
	deadline := time.Now().Add(p.pollBudget)
	for {
		var status queueStatusResponse
		if err := p.getJSON(ctx, statusURL, &status); err != nil {
			return fmt.Errorf("remote queue status: %w", err)
		}
		switch status.Status {
		case "COMPLETED":
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
		default:
			return fmt.Errorf("remote queue: job ended with status %q", status.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("remote queue: job not completed within %s (last status %q)", p.pollBudget, status.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *remoteQueueProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Key "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}

func (p *remoteQueueProvider) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote queue download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote queue download: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
