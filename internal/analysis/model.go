// Package analysis exposes the stateless transcript-analysis API and the
// batch re-transcription endpoint backing the client's refinement pass.
package analysis

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

// Part is one piece of a model prompt: text, inline media, or both.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded media for a prompt part.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Model produces a single text completion for a prompt.
type Model interface {
	Generate(ctx context.Context, parts []Part) (string, error)
}

// GeminiModel calls the generateContent REST endpoint of one model.
type GeminiModel struct {
	apiKey string
	host   string
	model  string
	client *http.Client
}

// NewGeminiModel builds a client for the named model. An empty host
// selects the public API host.
func NewGeminiModel(apiKey, host, model string) *GeminiModel {
	if host == "" {
		host = "generativelanguage.googleapis.com"
	}
	model = strings.TrimPrefix(model, "models/")
	return &GeminiModel{
		apiKey: apiKey,
		host:   host,
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate runs one generateContent call and returns the concatenated
// text of the first candidate.
func (m *GeminiModel) Generate(ctx context.Context, parts []Part) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := url.URL{
		Scheme:   "https",
		Host:     m.host,
		Path:     fmt.Sprintf("/v1beta/models/%s:generateContent", m.model),
		RawQuery: url.Values{"key": {m.apiKey}}.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}
