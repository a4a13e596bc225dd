package gemini

import (
	"encoding/json"
	"strings"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
)

// Outbound wire frames.

type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
		} `json:"generationConfig"`
		SystemInstruction        *contentPayload `json:"systemInstruction,omitempty"`
		InputAudioTranscription  *struct{}       `json:"inputAudioTranscription,omitempty"`
		OutputAudioTranscription *struct{}       `json:"outputAudioTranscription,omitempty"`
	} `json:"setup"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []mediaChunk `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type clientContentMessage struct {
	ClientContent struct {
		Turns        []turnPayload `json:"turns"`
		TurnComplete bool          `json:"turnComplete"`
	} `json:"clientContent"`
}

type mediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type contentPayload struct {
	Parts []partPayload `json:"parts"`
}

type turnPayload struct {
	Role  string        `json:"role"`
	Parts []partPayload `json:"parts"`
}

type partPayload struct {
	Text       string       `json:"text,omitempty"`
	InlineData *inlineBytes `json:"inlineData,omitempty"`
}

type inlineBytes struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// serverMessage is the polymorphic envelope pushed by Gemini Live. Many
// conceptually distinct signals arrive as optional nested fields of one
// shape; which combination is present varies per message.
type serverMessage struct {
	ServerContent *struct {
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    *struct {
			Parts []partPayload `json:"parts"`
		} `json:"modelTurn"`
	} `json:"serverContent"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NormalizeServerMessage pattern-matches one upstream envelope into zero
// or more normalized events. Unrecognized or malformed envelopes yield
// nothing; upstream schema drift must never fail the session.
func NormalizeServerMessage(payload []byte) []domain.SessionEvent {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil
	}

	var events []domain.SessionEvent

	if msg.Error != nil {
		events = append(events, domain.SessionEvent{
			Kind:   domain.EventSessionError,
			Reason: msg.Error.Message,
		})
	}

	content := msg.ServerContent
	if content == nil {
		return events
	}

	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		events = append(events, domain.SessionEvent{
			Kind: domain.EventPartialTranscript,
			Text: content.InputTranscription.Text,
		})
	}

	if content.OutputTranscription != nil {
		if text := strings.TrimSpace(content.OutputTranscription.Text); text != "" {
			events = append(events, domain.SessionEvent{
				Kind: domain.EventAssistantText,
				Text: text,
			})
		}
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				pcm, err := audio.FromBase64(part.InlineData.Data)
				if err != nil {
					continue
				}
				events = append(events, domain.SessionEvent{
					Kind:  domain.EventAssistantAudio,
					Audio: pcm,
				})
			}
		}
	}

	// turnComplete is ordered after the transcription it terminates.
	if content.TurnComplete {
		events = append(events, domain.SessionEvent{Kind: domain.EventTurnComplete})
	}

	return events
}
