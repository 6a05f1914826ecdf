package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/vango-go/vts-motion/pkg/core"
)

func TestEncode_StampsEnvelope(t *testing.T) {
	codec := NewCodecWithIDs(func() string { return "req-1" })

	raw, env, err := codec.Encode(MessageTypeTokenRequest, TokenRequest{PluginName: "NaturalBodyMover", PluginDeveloper: "kmtkzy"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if env.RequestID != "req-1" {
		t.Fatalf("requestID=%q", env.RequestID)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["apiName"] != APIName || decoded["apiVersion"] != "1.0" {
		t.Fatalf("envelope=%v", decoded)
	}
	if decoded["messageType"] != MessageTypeTokenRequest {
		t.Fatalf("messageType=%v", decoded["messageType"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok || data["pluginName"] != "NaturalBodyMover" || data["pluginDeveloper"] != "kmtkzy" {
		t.Fatalf("data=%v", decoded["data"])
	}
}

func TestEncode_NilPayloadIsEmptyObject(t *testing.T) {
	raw, _, err := NewCodec().Encode("APIStateRequest", nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var decoded struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(decoded.Data) != "{}" {
		t.Fatalf("data=%s, want {}", decoded.Data)
	}
}

func TestEncode_FreshRequestIDPerCall(t *testing.T) {
	codec := NewCodec()
	_, first, err := codec.Encode(MessageTypeInjectRequest, InjectRequest{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	_, second, err := codec.Encode(MessageTypeInjectRequest, InjectRequest{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if first.RequestID == second.RequestID {
		t.Fatalf("request ids repeated: %q", first.RequestID)
	}
	if _, err := uuid.Parse(first.RequestID); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", first.RequestID, err)
	}
}

func TestEncode_RejectsEmptyMessageType(t *testing.T) {
	if _, _, err := NewCodec().Encode("  ", nil); err == nil {
		t.Fatalf("expected error for empty message type")
	}
}

func TestEncode_InjectPayloadShape(t *testing.T) {
	raw, _, err := NewCodec().Encode(MessageTypeInjectRequest, InjectRequest{
		Mode: InjectModeSet,
		ParameterValues: []ParameterValue{
			{ID: "FaceAngleX", Value: 1.5},
			{ID: "EyeOpenLeft", Value: 1},
		},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var decoded struct {
		Data struct {
			FaceFound       bool   `json:"faceFound"`
			Mode            string `json:"mode"`
			ParameterValues []struct {
				ID    string  `json:"id"`
				Value float64 `json:"value"`
			} `json:"parameterValues"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Data.Mode != "set" || len(decoded.Data.ParameterValues) != 2 {
		t.Fatalf("data=%+v", decoded.Data)
	}
	if decoded.Data.ParameterValues[0].ID != "FaceAngleX" || decoded.Data.ParameterValues[0].Value != 1.5 {
		t.Fatalf("first value=%+v", decoded.Data.ParameterValues[0])
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"messageType":`))
	var protoErr *core.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err=%v, want ProtocolError", err)
	}
}

func TestDecode_MissingMessageType(t *testing.T) {
	_, err := Decode([]byte(`{"apiName":"VTubeStudioPublicAPI","data":{}}`))
	var protoErr *core.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err=%v, want ProtocolError", err)
	}
}

func TestDecode_AcceptsLowerCamelRequestID(t *testing.T) {
	env, err := Decode([]byte(`{"apiName":"VTubeStudioPublicAPI","apiVersion":"1.0","requestId":"abc","messageType":"AuthenticationResponse","data":{"authenticated":true}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.RequestID != "abc" {
		t.Fatalf("requestID=%q", env.RequestID)
	}
}

func TestDecodeData_TokenResponse(t *testing.T) {
	env, err := Decode([]byte(`{"messageType":"AuthenticationTokenResponse","data":{"authenticationToken":"abc123"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	var resp TokenResponse
	if err := DecodeData(env, MessageTypeTokenResponse, &resp); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if resp.AuthenticationToken != "abc123" {
		t.Fatalf("token=%q", resp.AuthenticationToken)
	}
}

func TestDecodeData_APIError(t *testing.T) {
	env, err := Decode([]byte(`{"messageType":"APIError","data":{"errorID":50,"message":"User has denied API access for your plugin."}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	var resp TokenResponse
	err = DecodeData(env, MessageTypeTokenResponse, &resp)
	var protoErr *core.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err=%v, want ProtocolError", err)
	}
	if protoErr.Code != "50" || protoErr.MessageType != MessageTypeAPIError {
		t.Fatalf("protocol error=%+v", protoErr)
	}
}

func TestDecodeData_UnexpectedType(t *testing.T) {
	env := &Envelope{MessageType: "InjectParameterDataResponse", Data: json.RawMessage(`{}`)}
	var resp AuthResponse
	if err := DecodeData(env, MessageTypeAuthResponse, &resp); err == nil {
		t.Fatalf("expected error for unexpected message type")
	}
}

func TestDecodeData_MissingData(t *testing.T) {
	env := &Envelope{MessageType: MessageTypeAuthResponse}
	var resp AuthResponse
	if err := DecodeData(env, MessageTypeAuthResponse, &resp); err == nil {
		t.Fatalf("expected error for missing data")
	}
}

func TestDecodeData_NilEnvelope(t *testing.T) {
	var resp AuthResponse
	if err := DecodeData(nil, MessageTypeAuthResponse, &resp); err == nil {
		t.Fatalf("expected error for nil envelope")
	}
}
