// Package protocol defines the wire frames of the conversational interview
// websocket. Every frame is a JSON object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	ControlOpMute       = "mute"
	ControlOpUnmute     = "unmute"
	ControlOpEndSession = "end_session"
)

// DecodeError is returned when frame decoding fails.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// AudioFormat describes the negotiated audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello opens the session. The token authenticates the candidate; the
// endpoint answers with ServerHelloAck or ServerError.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Token           string      `json:"token"`
	AudioIn         AudioFormat `json:"audio_in"`
}

// ClientAudioFrame carries one chunk of candidate microphone audio.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

// ClientControl carries a session control operation.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// ServerHelloAck confirms the session. ConversationRef identifies the
// conversation on the analysis side and travels with the finalize payload.
type ServerHelloAck struct {
	Type            string      `json:"type"`
	ConversationRef string      `json:"conversation_ref"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ServerTranscriptEntry is one committed turn of the exchange. The role is
// whatever the remote side reports; receipt ordering is the client's concern.
type ServerTranscriptEntry struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ServerAssistantAudioChunk carries one chunk of the agent's speech.
type ServerAssistantAudioChunk struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

// ServerWarning is a non-fatal advisory.
type ServerWarning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerError is a fatal session error; the endpoint closes after sending it.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerBye announces a remote-initiated close.
type ServerBye struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ServerFrame is any frame the endpoint can send.
type ServerFrame interface {
	serverFrameType() string
}

func (f ServerHelloAck) serverFrameType() string            { return "hello_ack" }
func (f ServerTranscriptEntry) serverFrameType() string     { return "transcript_entry" }
func (f ServerAssistantAudioChunk) serverFrameType() string { return "assistant_audio_chunk" }
func (f ServerWarning) serverFrameType() string             { return "warning" }
func (f ServerError) serverFrameType() string               { return "error" }
func (f ServerBye) serverFrameType() string                 { return "bye" }

// UnknownFrame preserves frames this client version does not understand.
// Unknown types are not an error: newer endpoints may add frames.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (f UnknownFrame) serverFrameType() string { return f.Type }

// DecodeServerFrame decodes a server frame off its type envelope.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame(fmt.Sprintf("decode frame envelope: %v", err), "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("frame missing type", "type")
	}

	switch typ {
	case "hello_ack":
		var f ServerHelloAck
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode hello_ack: %v", err), "")
		}
		return f, nil
	case "transcript_entry":
		var f ServerTranscriptEntry
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode transcript_entry: %v", err), "")
		}
		if f.Role != "assistant" && f.Role != "candidate" {
			return nil, badFrame(fmt.Sprintf("unknown transcript role %q", f.Role), "role")
		}
		return f, nil
	case "assistant_audio_chunk":
		var f ServerAssistantAudioChunk
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode assistant_audio_chunk: %v", err), "")
		}
		return f, nil
	case "warning":
		var f ServerWarning
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode warning: %v", err), "")
		}
		return f, nil
	case "error":
		var f ServerError
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode error: %v", err), "")
		}
		return f, nil
	case "bye":
		var f ServerBye
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame(fmt.Sprintf("decode bye: %v", err), "")
		}
		return f, nil
	default:
		return UnknownFrame{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}

// NewHello builds the opening client frame.
func NewHello(token string, audioIn AudioFormat) ClientHello {
	return ClientHello{
		Type:            "hello",
		ProtocolVersion: ProtocolVersion1,
		Token:           token,
		AudioIn:         audioIn,
	}
}

// NewAudioFrame builds an outbound audio frame.
func NewAudioFrame(seq int64, dataB64 string) ClientAudioFrame {
	return ClientAudioFrame{Type: "audio_frame", Seq: seq, DataB64: dataB64}
}

// NewControl builds an outbound control frame.
func NewControl(op string) ClientControl {
	return ClientControl{Type: "control", Op: op}
}
