package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRemoteTimeout = 60 * time.Second

// RemoteProvider speaks the OpenAI-compatible chat-completions dialect
// used by the bulk and premium classification endpoints.
type RemoteProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// RemoteOptions configures a RemoteProvider.
type RemoteOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewRemoteProvider(opts RemoteOptions) (*RemoteProvider, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fmt.Errorf("remote provider name is required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("remote provider %s: base URL is required", opts.Name)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteProvider{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *RemoteProvider) Name() string { return p.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
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
	} `json:"choices"`
}

// Classify submits the whole batch as one request and expects a JSON
// array with one result object per article, in input order.
func (p *RemoteProvider) Classify(ctx context.Context, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildBatchPrompt(items)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", p.name, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, ErrUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: status 429: %w", p.name, ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: status %d: %w", p.name, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: status %d: %w", p.name, resp.StatusCode, ErrMalformed)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: unexpected response shape: %w", p.name, ErrMalformed)
	}

	return parseResults(p.name, parsed.Choices[0].Message.Content, len(items))
}

const systemPrompt = "You are a news classification assistant. " +
	"Answer with a JSON array only, no prose."

func buildBatchPrompt(items []Item) string {
	var b strings.Builder
	b.WriteString("Classify each article for relevance to AI developments in India.\n")
	b.WriteString("Return a JSON array with one object per article, in order, each with keys: ")
	b.WriteString(`is_relevant (bool), confidence (0-1), category (string), region_tags (array of region codes), summary (string, <= 2 sentences).` + "\n\n")
	for i, item := range items {
		fmt.Fprintf(&b, "Article %d:\nTitle: %s\n", i+1, item.Title)
		excerpt := item.ContentExcerpt
		if len(excerpt) > 800 {
			excerpt = excerpt[:800]
		}
		if excerpt != "" {
			fmt.Fprintf(&b, "Excerpt: %s\n", excerpt)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseResults tolerates prose around the JSON array but insists on
// exactly one result per submitted article.
func parseResults(providerName, content string, want int) ([]Result, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%s: no JSON array in response: %w", providerName, ErrMalformed)
	}

	var results []Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &results); err != nil {
		return nil, fmt.Errorf("%s: parse results: %v: %w", providerName, err, ErrMalformed)
	}
	if len(results) != want {
		return nil, fmt.Errorf("%s: got %d results for %d articles: %w", providerName, len(results), want, ErrMalformed)
	}
	return results, nil
}
