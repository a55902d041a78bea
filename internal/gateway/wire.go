// Package gateway is the client-facing surface: a WebSocket server speaking
// framed JSON, a per-connection state machine, and the glue that turns
// utterances into reply pipelines.
package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame type strings, client to server.
const (
	TypeAuth         = "auth"
	TypeGetDocuments = "get_documents"
	TypeStartStream  = "start_stream"
	TypeSTTAudio     = "stt_audio"
	TypeEndSpeech    = "end_speech"
	TypeBargeIn      = "barge_in"
)

// Frame type strings, server to client.
const (
	TypeConnected        = "connected"
	TypeStreamStarted    = "stream_started"
	TypeDocumentsList    = "documents_list"
	TypeAudioChunk       = "audio_chunk"
	TypeConversationPair = "conversation_pair"
	TypeStreamComplete   = "stream_complete"
	TypeError            = "error"
)

// Stream completion statuses.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Frame is the envelope of every message in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthData is the payload of an auth frame.
type AuthData struct {
	APIKey    string `json:"api_key"`
	SessionID string `json:"session_id,omitempty"`
}

// StartStreamData is the payload of a start_stream frame.
type StartStreamData struct {
	Voice            string `json:"voice"`
	Mode             string `json:"mode"`
	SelectedDocument string `json:"selected_document,omitempty"`
}

// STTAudioData is the payload of an stt_audio frame. Audio is base64.
type STTAudioData struct {
	Audio string `json:"audio"`
}

// EndSpeechData is the payload of an end_speech frame.
type EndSpeechData struct {
	RequestID string `json:"request_id,omitempty"`
}

// ConnectedData is the payload of a connected frame.
type ConnectedData struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// StreamStartedData is the payload of a stream_started frame.
type StreamStartedData struct {
	SessionID string `json:"session_id"`
}

// DocumentsListData is the payload of a documents_list frame.
type DocumentsListData struct {
	Documents []string `json:"documents"`
}

// WordMark is one per-word timing entry in an audio chunk.
type WordMark struct {
	Word        string  `json:"word"`
	TimeSeconds float64 `json:"time_seconds"`
}

// AudioChunkData is the payload of an audio_chunk frame. Audio is base64 MP3.
type AudioChunkData struct {
	Text  string     `json:"text"`
	Audio string     `json:"audio"`
	Words []WordMark `json:"words"`
}

// ConversationPairData is the payload of a conversation_pair frame.
type ConversationPairData struct {
	UserQuery   string `json:"user_query"`
	LLMResponse string `json:"llm_response"`
}

// StreamCompleteData is the payload of a stream_complete frame.
type StreamCompleteData struct {
	Status string `json:"status"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// encodeFrame renders a typed payload into its wire form.
func encodeFrame(frameType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s data: %w", frameType, err)
	}
	out, err := json.Marshal(Frame{Type: frameType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s frame: %w", frameType, err)
	}
	return out, nil
}

// decodeData parses a frame's data object into the given payload type.
func decodeData[T any](f Frame) (T, error) {
	var data T
	if len(f.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return data, fmt.Errorf("gateway: malformed %s data: %w", f.Type, err)
	}
	return data, nil
}
