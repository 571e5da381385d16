package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// nodeGraphProvider submits a user-supplied workflow document to a node-graph
// image server. The workflow is an opaque JSON graph; the provider only
// rewrites two things before submission: every occurrence of the %prompt%
// placeholder, and any width/height fields, which are forced square so covers
// come out uniform regardless of what the workflow author left in.
type nodeGraphProvider struct {
	client       *http.Client
	baseURL      string
	workflowJSON string
	pollInterval time.Duration
	maxPolls     int
}

type nodeGraphSubmitResponse struct {
	PromptID string `json:"prompt_id"`
}

func (p *nodeGraphProvider) generate(ctx context.Context, prompt string) ([]byte, error) {
	if p.baseURL == "" {
		return nil, errors.New("node graph: no base URL configured")
	}
	if p.workflowJSON == "" {
		return nil, errors.New("node graph: no workflow configured")
	}
	var workflow map[string]any
	if err := json.Unmarshal([]byte(p.workflowJSON), &workflow); err != nil {
		return nil, fmt.Errorf("node graph: workflow is not valid JSON: %w", err)
	}
	injected := injectPrompt(workflow, prompt).(map[string]any)
	forceSquare(injected)

	promptID, err := p.submit(ctx, injected)
	if err != nil {
		return nil, err
	}
	image, err := p.awaitImage(ctx, promptID)
	if err != nil {
		return nil, err
	}
	return p.fetchImage(ctx, image)
}

func (p *nodeGraphProvider) submit(ctx context.Context, workflow map[string]any) (string, error) {
	payload := map[string]any{
		"prompt":    workflow,
		"client_id": uuid.NewString(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("node graph: encode submit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("node graph submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("node graph submit: http %d", resp.StatusCode)
	}
	var out nodeGraphSubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("node graph submit: decode: %w", err)
	}
	if out.PromptID == "" {
		return "", errors.New("node graph: submit returned no prompt id")
	}
	return out.PromptID, nil
}

type nodeGraphImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type nodeGraphOutputs struct {
	Outputs map[string]struct {
		Images []nodeGraphImage `json:"images"`
	} `json:"outputs"`
}

// historyEntry digs the run's entry out of a history response. Servers differ
// on shape: most key the document by prompt id, some nest that map under a
// "history" field, and a few return the entry itself as the body.
func historyEntry(raw []byte, promptID string) *nodeGraphOutputs {
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil
	}
	if entry, ok := keyed[promptID]; ok {
		if out := decodeOutputs(entry); out != nil {
			return out
		}
	}
	if nested, ok := keyed["history"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if entry, ok := inner[promptID]; ok {
				if out := decodeOutputs(entry); out != nil {
					return out
				}
			}
		}
	}
	return decodeOutputs(raw)
}

func decodeOutputs(raw json.RawMessage) *nodeGraphOutputs {
	var out nodeGraphOutputs
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Outputs) == 0 {
		return nil
	}
	return &out
}

// awaitImage polls the history endpoint until the run shows up with an output
// image. History documents vary by node set, so the search walks every output
// node looking for an images list rather than assuming a fixed node id.
func (p *nodeGraphProvider) awaitImage(ctx context.Context, promptID string) (*nodeGraphImage, error) {
	for i := 0; i < p.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/history/"+promptID, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("node graph history: %w", err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("node graph history: http %d", resp.StatusCode)
		}

		entry := historyEntry(raw, promptID)
		if entry == nil {
			continue
		}
		for _, node := range entry.Outputs {
			for _, img := range node.Images {
				if img.Filename != "" {
					found := img
					return &found, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("node graph: no image after %d polls", p.maxPolls)
}

func (p *nodeGraphProvider) fetchImage(ctx context.Context, img *nodeGraphImage) ([]byte, error) {
	kind := img.Type
	if kind == "" {
		kind = "output"
	}
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node graph view: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("node graph view: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// injectPrompt replaces every %prompt% placeholder anywhere in the graph.
func injectPrompt(node any, prompt string) any {
	switch t := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = injectPrompt(v, prompt)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = injectPrompt(v, prompt)
		}
		return out
	case string:
		return replacePlaceholder(t, prompt)
	default:
		return node
	}
}

func replacePlaceholder(s, prompt string) string {
	return strings.ReplaceAll(s, "%prompt%", prompt)
}

// forceSquare overwrites width/height fields in place throughout the graph.
func forceSquare(node any) {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			if k == "width" || k == "height" {
				t[k] = CoverSize
				continue
			}
			forceSquare(v)
		}
	case []any:
		for _, v := range t {
			forceSquare(v)
		}
	}
}
