package relay

import "encoding/json"

// clientMessage is anything the client sends after the websocket opens.
// Exactly one field is expected per message; classification checks them
// in priority order and ignores whatever does not fit.
type clientMessage struct {
	Type              string          `json:"type,omitempty"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	Audio             string          `json:"audio,omitempty"`
	Text              string          `json:"text,omitempty"`
	Debug             json.RawMessage `json:"debug,omitempty"`
}

const messageTypeConfig = "config"

// serverReady acknowledges a completed handshake. It is the first frame
// the client ever receives.
type serverReady struct {
	Type string `json:"type"`
}

// serverContentFrame re-frames normalized upstream events into the wire
// shape clients consume.
type serverContentFrame struct {
	ServerContent serverContentBody `json:"serverContent"`
}

type serverContentBody struct {
	InputTranscription  *transcriptionBody `json:"inputTranscription,omitempty"`
	OutputTranscription *transcriptionBody `json:"outputTranscription,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	ModelTurn           *modelTurnBody     `json:"modelTurn,omitempty"`
}

type transcriptionBody struct {
	Text string `json:"text"`
}

type modelTurnBody struct {
	Parts []modelPart `json:"parts"`
}

type modelPart struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}
