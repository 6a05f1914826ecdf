package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrTransport      ErrorType = "transport_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrConfiguration  ErrorType = "configuration_error"
	ErrUnknown        ErrorType = "unknown_error"
)

// TransportError represents socket-level failures (DNS, refused connections,
// timeouts, peer close, failed writes) while talking to the host.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from protocol or authentication failures.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProtocolError is a malformed or unexpected reply. It fails the individual
// call; whether the session survives is the caller's decision.
type ProtocolError struct {
	MessageType string
	Code        string
	Message     string
	Err         error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(ErrProtocol))
	if e.MessageType != "" {
		b.WriteString(" (")
		b.WriteString(e.MessageType)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Code != "" {
		fmt.Fprintf(&b, " (code: %s)", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthError is an explicit rejection of the presented credential by the host.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "unknown reason"
	}
	return fmt.Sprintf("%s: host rejected credential: %s", ErrAuthentication, reason)
}

// ConfigurationError is an invalid startup setting. It is never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Message)
}

// NewProtocolError creates a protocol error for the given message type.
func NewProtocolError(messageType, message string) *ProtocolError {
	return &ProtocolError{MessageType: messageType, Message: message}
}

// NewConfigurationError creates a configuration error for a named setting.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// TypeOf reports the category of err, looking through wrapping.
func TypeOf(err error) ErrorType {
	var (
		transportErr *TransportError
		protocolErr  *ProtocolError
		authErr      *AuthError
		configErr    *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &configErr):
		return ErrConfiguration
	case errors.As(err, &authErr):
		return ErrAuthentication
	case errors.As(err, &protocolErr):
		return ErrProtocol
	case errors.As(err, &transportErr):
		return ErrTransport
	default:
		return ErrUnknown
	}
}

// IsRetryable returns true unless err is a configuration error.
func IsRetryable(err error) bool {
	return err != nil && TypeOf(err) != ErrConfiguration
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
