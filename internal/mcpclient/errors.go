package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned before any process is spawned when credentials are missing.
var ErrNotConfigured = errors.New("analytics MCP server not configured")

// Kind classifies a TransportError.
type Kind string

const (
	KindSpawnFailed       Kind = "spawn_failed"
	KindStreamClosed      Kind = "stream_closed"
	KindTimeout           Kind = "timeout"
	KindMalformedResponse Kind = "malformed_response"
	KindHandshakeFailed   Kind = "handshake_failed"
	KindCanceled          Kind = "canceled"
)

// TransportError reports a failure of the server process or of the stdio protocol.
type TransportError struct {
	Kind   Kind
	Op     string
	Err    error
	Stderr []string
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mcp transport %s during %s", e.Kind, e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Stderr) > 0 {
		b.WriteString(" (stderr: ")
		b.WriteString(strings.Join(e.Stderr, " | "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteToolError is a JSON-RPC error object returned by the server.
type RemoteToolError struct {
	Code    int
	Message string
}

func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// KindOf returns the transport kind of err, or "" when err is not a TransportError.
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// ContextError classifies a finished context as KindTimeout or KindCanceled.
func ContextError(ctx context.Context, op string) *TransportError {
	return contextError(ctx, op)
}

func contextError(ctx context.Context, op string) *TransportError {
	kind := KindCanceled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, Op: op, Err: ctx.Err()}
}
