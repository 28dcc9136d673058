package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// WebSearch implements Executor against a Brave-style web search API. It
// accepts rich parameters (country, language, freshness, safesearch,
// count) straight off the tool call's arguments JSON; any other keys the
// caller sent are ignored rather than rejected (§4.G).
type WebSearch struct {
	apiKey  string
	baseURL string // e.g. "https://api.search.brave.com/res/v1/web/search"
	client  *http.Client
}

func NewWebSearch(apiKey, baseURL string, client *http.Client) *WebSearch {
	return &WebSearch{apiKey: apiKey, baseURL: baseURL, client: client}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search issues a web search for params["query"] and returns the top
// results formatted as plain text for the model to read.
func (w *WebSearch) Search(ctx context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return "", fmt.Errorf("web_search: missing required \"query\" parameter")
	}

	q := url.Values{}
	q.Set("q", query)
	if country, ok := params["country"].(string); ok && country != "" {
		q.Set("country", country)
	}
	if language, ok := params["language"].(string); ok && language != "" {
		q.Set("search_lang", language)
	}
	if freshness, ok := params["freshness"].(string); ok && freshness != "" {
		q.Set("freshness", freshness)
	}
	if safesearch, ok := params["safesearch"].(string); ok && safesearch != "" {
		q.Set("safesearch", safesearch)
	}
	if count, ok := params["count"].(float64); ok && count > 0 {
		q.Set("count", fmt.Sprintf("%d", int(count)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("building web search request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", w.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading web search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search returned status %d: %s", resp.StatusCode, body)
	}

	var parsed braveSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding web search response: %w", err)
	}

	if len(parsed.Web.Results) == 0 {
		return "No results found.", nil
	}

	out := ""
	for i, r := range parsed.Web.Results {
		out += fmt.Sprintf("%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return out, nil
}
