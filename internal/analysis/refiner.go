package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPRefiner calls the relay's /api/refine endpoint to re-transcribe a
// completed turn's audio. It satisfies the client's refinement port.
type HTTPRefiner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRefiner builds a refiner against the relay at baseURL, e.g.
// "http://localhost:3001".
func NewHTTPRefiner(baseURL string) *HTTPRefiner {
	return &HTTPRefiner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Refine submits base64 WAV audio and returns the corrected transcript.
func (r *HTTPRefiner) Refine(ctx context.Context, wavBase64 string) (string, error) {
	body, err := json.Marshal(refineRequest{Audio: wavBase64})
	if err != nil {
		return "", fmt.Errorf("encode refine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/refine", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call refine endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refine endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode refine response: %w", err)
	}
	return result.Text, nil
}
