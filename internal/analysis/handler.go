package analysis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"liverelay/internal/metrics"
)

const summaryPrompt = `Analyze the following transcript of a conversation.
Provide a "Quick Summary" (2-3 sentences max) capturing the core topic.
Then, determine the overall "Emotional Mood" of the user/speaker (e.g., Anxious, Confident, Defensive).

Format the output EXACTLY like this JSON:
{
  "summary": "...",
  "mood": "..."
}

Transcript:
%s`

const strategyPrompt = `You are a high-level negotiation and communication strategist.
Analyze the transcript below.
Identify hidden motivations, psychological leverage points, and suggest a long-term strategy.

Output in Markdown format.

Transcript:
%s`

const questionPrompt = `Based on this recent conversation snippet, generate ONE high-impact strategic question the user can ask to take control or deepen understanding.
Snippet: %s`

const refinePrompt = `Please transcribe the spoken audio exactly.
Correct any obvious phonetic misinterpretations.
Return ONLY the text.`

// Handler serves the transcript-analysis endpoints. Every endpoint is
// stateless: one model call per request, nothing retained.
type Handler struct {
	model   Model
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewHandler(model Model, m *metrics.Metrics, log zerolog.Logger) *Handler {
	if m == nil {
		m = metrics.Default
	}
	return &Handler{model: model, metrics: m, log: log}
}

// Routes returns the handler's router, meant to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/summary", h.handleSummary)
	r.Post("/strategy", h.handleStrategy)
	r.Post("/question", h.handleQuestion)
	r.Post("/refine", h.handleRefine)
	return r
}

type textRequest struct {
	Text string `json:"text"`
}

type refineRequest struct {
	Audio string `json:"audio"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	h.observe(w, r, "summary", func() (any, error) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		raw, err := h.model.Generate(r.Context(), []Part{{Text: fmt.Sprintf(summaryPrompt, req.Text)}})
		if err != nil {
			return nil, err
		}
		// the model is asked for bare JSON but tends to wrap it in a
		// markdown code fence anyway
		var result struct {
			Summary string `json:"summary"`
			Mood    string `json:"mood"`
		}
		if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
			return nil, fmt.Errorf("model produced unparsable summary: %w", err)
		}
		return result, nil
	})
}

func (h *Handler) handleStrategy(w http.ResponseWriter, r *http.Request) {
	h.observe(w, r, "strategy", func() (any, error) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		text, err := h.model.Generate(r.Context(), []Part{{Text: fmt.Sprintf(strategyPrompt, req.Text)}})
		if err != nil {
			return nil, err
		}
		return map[string]string{"strategy": text}, nil
	})
}

func (h *Handler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	h.observe(w, r, "question", func() (any, error) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		text, err := h.model.Generate(r.Context(), []Part{{Text: fmt.Sprintf(questionPrompt, req.Text)}})
		if err != nil {
			return nil, err
		}
		return map[string]string{"question": text}, nil
	})
}

func (h *Handler) handleRefine(w http.ResponseWriter, r *http.Request) {
	h.observe(w, r, "refine", func() (any, error) {
		var req refineRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		text, err := h.model.Generate(r.Context(), []Part{
			{InlineData: &Blob{MimeType: "audio/wav", Data: req.Audio}},
			{Text: refinePrompt},
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"text": strings.TrimSpace(text)}, nil
	})
}

// observe wraps one endpoint call with latency and outcome metrics and
// uniform error rendering.
func (h *Handler) observe(w http.ResponseWriter, r *http.Request, endpoint string, fn func() (any, error)) {
	start := time.Now()
	result, err := fn()
	h.metrics.AnalysisLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		h.metrics.AnalysisRequests.WithLabelValues(endpoint, "error").Inc()
		h.log.Warn().Err(err).Str("endpoint", endpoint).Msg("analysis request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.metrics.AnalysisRequests.WithLabelValues(endpoint, "ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stripFences removes a wrapping markdown code fence from model output.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
