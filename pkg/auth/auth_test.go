package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-go/vts-motion/pkg/core"
	"github.com/vango-go/vts-motion/pkg/protocol"
)

// scriptedHost is an in-memory transport.Conn whose replies come from respond.
type scriptedHost struct {
	t       *testing.T
	respond func(env protocol.Envelope) []byte
	replies chan []byte
	sent    []protocol.Envelope
	done    chan struct{}
}

func newScriptedHost(t *testing.T, respond func(env protocol.Envelope) []byte) *scriptedHost {
	return &scriptedHost{t: t, respond: respond, replies: make(chan []byte, 8), done: make(chan struct{})}
}

func (h *scriptedHost) Send(_ context.Context, data []byte) error {
	var env protocol.Envelope
	require.NoError(h.t, json.Unmarshal(data, &env))
	h.sent = append(h.sent, env)
	if reply := h.respond(env); reply != nil {
		h.replies <- reply
	}
	return nil
}

func (h *scriptedHost) Receive(ctx context.Context) ([]byte, error) {
	select {
	case r := <-h.replies:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *scriptedHost) Ping(context.Context) error { return nil }
func (h *scriptedHost) Done() <-chan struct{}      { return h.done }
func (h *scriptedHost) Err() error                 { return nil }
func (h *scriptedHost) Close() error               { return nil }

func (h *scriptedHost) sentTypes() []string {
	out := make([]string, 0, len(h.sent))
	for _, env := range h.sent {
		out = append(out, env.MessageType)
	}
	return out
}

func reply(t *testing.T, requestID, messageType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(protocol.Envelope{
		APIName:     protocol.APIName,
		APIVersion:  protocol.APIVersion,
		RequestID:   requestID,
		MessageType: messageType,
		Data:        raw,
	})
	require.NoError(t, err)
	return out
}

// pairingHost grants token and accepts only that token.
func pairingHost(t *testing.T, token string) func(env protocol.Envelope) []byte {
	return func(env protocol.Envelope) []byte {
		switch env.MessageType {
		case protocol.MessageTypeTokenRequest:
			return reply(t, env.RequestID, protocol.MessageTypeTokenResponse, protocol.TokenResponse{AuthenticationToken: token})
		case protocol.MessageTypeAuthRequest:
			var req protocol.AuthRequest
			require.NoError(t, json.Unmarshal(env.Data, &req))
			if req.AuthenticationToken == token {
				return reply(t, env.RequestID, protocol.MessageTypeAuthResponse, protocol.AuthResponse{Authenticated: true})
			}
			return reply(t, env.RequestID, protocol.MessageTypeAuthResponse, protocol.AuthResponse{Authenticated: false, Reason: "unauthorized"})
		}
		return nil
	}
}

func newTestManager(t *testing.T, store CredentialStore, opts Options) *Manager {
	t.Helper()
	m, err := NewManager(
		Identity{PluginName: "NaturalBodyMover", PluginDeveloper: "kmtkzy"},
		store,
		protocol.NewCodec(),
		opts,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	return m
}

func TestAuthenticate_PairsWhenNoCredential(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})
	host := newScriptedHost(t, pairingHost(t, "abc123"))

	require.NoError(t, m.Authenticate(context.Background(), host))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(raw))

	assert.Equal(t, []string{protocol.MessageTypeTokenRequest, protocol.MessageTypeAuthRequest}, host.sentTypes())
	var req protocol.AuthRequest
	require.NoError(t, json.Unmarshal(host.sent[1].Data, &req))
	assert.Equal(t, "abc123", req.AuthenticationToken)
	assert.Equal(t, "NaturalBodyMover", req.PluginName)
	assert.Equal(t, "kmtkzy", req.PluginDeveloper)
}

func TestAuthenticate_UsesStoredCredential(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc123\n"), 0o600))
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})
	host := newScriptedHost(t, pairingHost(t, "abc123"))

	require.NoError(t, m.Authenticate(context.Background(), host))
	assert.Equal(t, []string{protocol.MessageTypeAuthRequest}, host.sentTypes())
}

func TestAuthenticate_RejectionDeletesCredentialAndRepairs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})

	err := m.Authenticate(context.Background(), newScriptedHost(t, pairingHost(t, "abc123")))
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "unauthorized", authErr.Reason)
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	next := newScriptedHost(t, pairingHost(t, "abc123"))
	require.NoError(t, m.Authenticate(context.Background(), next))
	assert.Equal(t, []string{protocol.MessageTypeTokenRequest, protocol.MessageTypeAuthRequest}, next.sentTypes())
}

func TestAuthenticate_APIErrorOnAuthIsRejection(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc123"), 0o600))
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})
	host := newScriptedHost(t, func(env protocol.Envelope) []byte {
		return reply(t, env.RequestID, protocol.MessageTypeAPIError, protocol.APIErrorData{ErrorID: 8, Message: "token invalid"})
	})

	err := m.Authenticate(context.Background(), host)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "token invalid", authErr.Reason)
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestAuthenticate_TokenRequestDenied(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})
	host := newScriptedHost(t, func(env protocol.Envelope) []byte {
		return reply(t, env.RequestID, protocol.MessageTypeAPIError, protocol.APIErrorData{ErrorID: 50, Message: "User has denied API access for your plugin."})
	})

	err := m.Authenticate(context.Background(), host)
	require.Error(t, err)
	assert.Equal(t, core.ErrProtocol, core.TypeOf(err))
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestAuthenticate_TimeoutKeepsCredential(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc123"), 0o600))
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: 50 * time.Millisecond})
	host := newScriptedHost(t, func(protocol.Envelope) []byte { return nil })

	start := time.Now()
	err := m.Authenticate(context.Background(), host)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, core.ErrProtocol, core.TypeOf(err))
	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "abc123", string(raw))
	assert.Len(t, host.sent, 1, "timed out calls are not retried")
}

func TestAuthenticate_SkipsRepliesForOtherRequests(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc123"), 0o600))
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second})
	var host *scriptedHost
	host = newScriptedHost(t, func(env protocol.Envelope) []byte {
		host.replies <- reply(t, "stale-id", protocol.MessageTypeAuthResponse, protocol.AuthResponse{Authenticated: false, Reason: "stale"})
		return reply(t, env.RequestID, protocol.MessageTypeAuthResponse, protocol.AuthResponse{Authenticated: true})
	})

	require.NoError(t, m.Authenticate(context.Background(), host))
}

func TestAuthenticate_PairingGraceHonorsCancel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vts_auth_token.txt")
	m := newTestManager(t, NewFileStore(path), Options{CallTimeout: time.Second, PairingGrace: time.Minute})
	host := newScriptedHost(t, pairingHost(t, "abc123"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Authenticate(ctx, host)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// The token was persisted before the grace period started.
	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "abc123", string(raw))
}

func TestNewManager_RejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Identity{PluginName: " ", PluginDeveloper: "kmtkzy"}, NewFileStore(""), nil, Options{}, nil)
	assert.Equal(t, core.ErrConfiguration, core.TypeOf(err))

	_, err = NewManager(Identity{PluginName: "NaturalBodyMover"}, NewFileStore(""), nil, Options{}, nil)
	assert.Equal(t, core.ErrConfiguration, core.TypeOf(err))
}
