// Package auth pairs the plugin with the host and authenticates sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/protocol"
	"github.com/vango-go/vts-motion/pkg/transport"
)

// Identity is how the plugin presents itself to the host.
type Identity struct {
	PluginName      string
	PluginDeveloper string
}

type Options struct {
	// CallTimeout bounds the wait for each reply.
	CallTimeout time.Duration
	// PairingGrace is the pause after a new token is granted, giving the user
	// time to approve the plugin in the host UI.
	PairingGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		CallTimeout:  5 * time.Second,
		PairingGrace: 5 * time.Second,
	}
}

// Manager obtains, persists and presents the plugin credential.
type Manager struct {
	identity Identity
	store    CredentialStore
	codec    *protocol.Codec
	opts     Options
	logger   *slog.Logger
}

func NewManager(identity Identity, store CredentialStore, codec *protocol.Codec, opts Options, logger *slog.Logger) (*Manager, error) {
	identity.PluginName = strings.TrimSpace(identity.PluginName)
	identity.PluginDeveloper = strings.TrimSpace(identity.PluginDeveloper)
	if identity.PluginName == "" {
		return nil, core.NewConfigurationError("plugin name", "must not be empty")
	}
	if identity.PluginDeveloper == "" {
		return nil, core.NewConfigurationError("plugin developer", "must not be empty")
	}
	if store == nil {
		return nil, core.NewConfigurationError("credential store", "must not be nil")
	}
	if codec == nil {
		codec = protocol.NewCodec()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.PairingGrace < 0 {
		opts.PairingGrace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		identity: identity,
		store:    store,
		codec:    codec,
		opts:     opts,
		logger:   logger.With("component", "auth"),
	}, nil
}

// Authenticate runs the pairing step when no credential is stored, then
// presents the credential. A rejected credential is deleted and reported as
// *core.AuthError, so the next attempt pairs again.
func (m *Manager) Authenticate(ctx context.Context, conn transport.Conn) error {
	token, ok, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	if !ok {
		token, err = m.requestToken(ctx, conn)
		if err != nil {
			return err
		}
		if err := m.store.Save(token); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		m.logger.Info("plugin token granted; approve the plugin in the host", "grace", m.opts.PairingGrace)
		if err := sleepCtx(ctx, m.opts.PairingGrace); err != nil {
			return err
		}
	}

	var resp protocol.AuthResponse
	err = m.call(ctx, conn, protocol.MessageTypeAuthRequest, protocol.AuthRequest{
		PluginName:          m.identity.PluginName,
		PluginDeveloper:     m.identity.PluginDeveloper,
		AuthenticationToken: token,
	}, protocol.MessageTypeAuthResponse, &resp)
	if err != nil {
		var protoErr *core.ProtocolError
		if errors.As(err, &protoErr) && protoErr.MessageType == protocol.MessageTypeAPIError {
			return m.reject(protoErr.Message)
		}
		return err
	}
	if !resp.Authenticated {
		return m.reject(resp.Reason)
	}

	m.logger.Info("authenticated")
	return nil
}

func (m *Manager) requestToken(ctx context.Context, conn transport.Conn) (string, error) {
	var resp protocol.TokenResponse
	err := m.call(ctx, conn, protocol.MessageTypeTokenRequest, protocol.TokenRequest{
		PluginName:      m.identity.PluginName,
		PluginDeveloper: m.identity.PluginDeveloper,
	}, protocol.MessageTypeTokenResponse, &resp)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	token := strings.TrimSpace(resp.AuthenticationToken)
	if token == "" {
		return "", fmt.Errorf("request token: %w", core.NewProtocolError(protocol.MessageTypeTokenResponse, "empty authenticationToken"))
	}
	return token, nil
}

func (m *Manager) reject(reason string) error {
	if err := m.store.Delete(); err != nil {
		m.logger.Error("failed to delete rejected credential", "error", err)
	}
	m.logger.Warn("host rejected credential; it was deleted and the plugin will pair again", "reason", reason)
	return &core.AuthError{Reason: reason}
}

// call sends one request and waits up to CallTimeout for its reply. Frames
// carrying another request id are skipped.
func (m *Manager) call(ctx context.Context, conn transport.Conn, reqType string, payload any, respType string, dst any) error {
	raw, sent, err := m.codec.Encode(reqType, payload)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	defer cancel()

	if err := conn.Send(callCtx, raw); err != nil {
		return err
	}

	for {
		frame, err := conn.Receive(callCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return &core.ProtocolError{MessageType: respType, Message: fmt.Sprintf("no reply within %s", m.opts.CallTimeout), Err: err}
			}
			return err
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			return err
		}
		if env.RequestID != "" && env.RequestID != sent.RequestID {
			m.logger.Debug("skipping reply for another request", "message_type", env.MessageType, "request_id", env.RequestID)
			continue
		}
		return protocol.DecodeData(env, respType, dst)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
