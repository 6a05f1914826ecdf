// Package protocol encodes and decodes the host's JSON-over-WebSocket
// request/response envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vango-go/vts-motion/pkg/core"
)

const (
	APIName    = "VTubeStudioPublicAPI"
	APIVersion = "1.0"
)

const (
	MessageTypeTokenRequest  = "AuthenticationTokenRequest"
	MessageTypeTokenResponse = "AuthenticationTokenResponse"
	MessageTypeAuthRequest   = "AuthenticationRequest"
	MessageTypeAuthResponse  = "AuthenticationResponse"
	MessageTypeInjectRequest = "InjectParameterDataRequest"
	MessageTypeAPIError      = "APIError"
)

const InjectModeSet = "set"

// Envelope is the shape of every request and response.
type Envelope struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID,omitempty"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type TokenRequest struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
}

type TokenResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type AuthRequest struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason,omitempty"`
}

type ParameterValue struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

type InjectRequest struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode,omitempty"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

// APIErrorData is the payload of an APIError reply.
type APIErrorData struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

// Codec stamps outbound envelopes. The zero value is not usable; use NewCodec.
type Codec struct {
	newID func() string
}

// NewCodec returns a codec that generates random UUID request ids.
func NewCodec() *Codec {
	return &Codec{newID: uuid.NewString}
}

// NewCodecWithIDs returns a codec using newID for request ids.
func NewCodecWithIDs(newID func() string) *Codec {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Codec{newID: newID}
}

// Encode wraps payload in a fresh envelope and serializes it. A nil payload
// is sent as an empty object.
func (c *Codec) Encode(messageType string, payload any) ([]byte, Envelope, error) {
	messageType = strings.TrimSpace(messageType)
	if messageType == "" {
		return nil, Envelope{}, fmt.Errorf("message type must not be empty")
	}

	data := json.RawMessage(`{}`)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, Envelope{}, fmt.Errorf("encode %s data: %w", messageType, err)
		}
		data = raw
	}

	env := Envelope{
		APIName:     APIName,
		APIVersion:  APIVersion,
		RequestID:   c.newID(),
		MessageType: messageType,
		Data:        data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode %s envelope: %w", messageType, err)
	}
	return raw, env, nil
}

// Decode parses a raw reply. Malformed JSON and a missing messageType are
// protocol errors.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &core.ProtocolError{Message: "malformed envelope", Err: err}
	}
	env.MessageType = strings.TrimSpace(env.MessageType)
	if env.MessageType == "" {
		return nil, core.NewProtocolError("", "envelope missing messageType")
	}
	return &env, nil
}

// DecodeData checks that env is a reply of type want and unmarshals its data
// into dst. An APIError reply is reported with the host's error id.
func DecodeData(env *Envelope, want string, dst any) error {
	if env == nil {
		return core.NewProtocolError(want, "no reply")
	}
	if env.MessageType == MessageTypeAPIError {
		var apiErr APIErrorData
		if err := json.Unmarshal(env.Data, &apiErr); err != nil {
			return &core.ProtocolError{MessageType: MessageTypeAPIError, Message: "malformed error payload", Err: err}
		}
		return &core.ProtocolError{
			MessageType: MessageTypeAPIError,
			Code:        strconv.Itoa(apiErr.ErrorID),
			Message:     strings.TrimSpace(apiErr.Message),
		}
	}
	if env.MessageType != want {
		return core.NewProtocolError(env.MessageType, fmt.Sprintf("unexpected message type, want %s", want))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return core.NewProtocolError(want, "reply missing data")
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return &core.ProtocolError{MessageType: want, Message: "malformed data", Err: err}
	}
	return nil
}
