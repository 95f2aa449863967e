package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

// Client speaks line-delimited JSON-RPC to the analytics MCP server. Every call
// spawns its own server process, performs the handshake, issues one request and
// terminates the process, so a Client is safe for concurrent use.
type Client struct {
	cfg    Config
	slots  *semaphore.Weighted
	logger *logrus.Entry
}

// New builds a client. A nil logger falls back to the standard logrus logger.
func New(cfg Config, logger *logrus.Entry) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxProcesses)),
		logger: logger.WithField("mode", string(cfg.Mode)),
	}
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config { return c.cfg }

// Configured reports whether credentials are present.
func (c *Client) Configured() bool { return c.cfg.Validate() == nil }

// Invoke calls tools/call for the named tool and returns the raw result object.
// Server-reported failures come back as *RemoteToolError, process and protocol
// failures as *TransportError.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", tool, err)
	}

	var result json.RawMessage
	err = c.withSession(ctx, tool, func(ctx context.Context, s *session) error {
		var callErr error
		result, callErr = s.call(ctx, "tools/call", protocol.CallParams{Name: tool, Args: rawArgs})
		return callErr
	})
	return result, err
}

// ListTools asks a fresh server process for its tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var raw json.RawMessage
	err := c.withSession(ctx, "tools/list", func(ctx context.Context, s *session) error {
		var callErr error
		raw, callErr = s.call(ctx, "tools/list", map[string]any{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	var list protocol.ListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &TransportError{Kind: KindMalformedResponse, Op: "tools/list", Err: err}
	}
	return list.Tools, nil
}

// withSession owns one process from spawn to termination; termination runs on every path.
func (c *Client) withSession(ctx context.Context, op string, fn func(context.Context, *session) error) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return contextError(ctx, op)
	}
	defer c.slots.Release(1)

	name, args, env := c.cfg.Command()
	started := time.Now()
	s, err := startSession(name, args, env, c.cfg.StderrLines, c.cfg.TerminateTimeout)
	if err != nil {
		c.logger.WithError(err).WithField("command", name).Warn("mcp server spawn failed")
		return &TransportError{Kind: KindSpawnFailed, Op: op, Err: err}
	}

	log := c.logger.WithFields(logrus.Fields{"pid": s.pid(), "op": op})
	log.Debug("mcp server started")
	defer func() {
		s.terminate(c.cfg.TerminateTimeout)
		log.WithField("dur", time.Since(started).Round(time.Millisecond)).Debug("mcp server terminated")
	}()

	if err := s.handshake(ctx, protocol.InitializeParams{
		ProtocolVersion: c.cfg.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      protocol.ClientInfo{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	}); err != nil {
		log.WithError(err).Warn("mcp handshake failed")
		return labelOp(err, op)
	}

	err = labelOp(fn(ctx, s), op)
	var remote *RemoteToolError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		log.WithField("code", remote.Code).Info("mcp server returned error: " + remote.Message)
	default:
		log.WithError(err).Warn("mcp call failed")
	}
	return err
}

// labelOp reports transport failures under the caller's operation, whichever
// protocol step failed.
func labelOp(err error, op string) error {
	var te *TransportError
	if errors.As(err, &te) {
		te.Op = op
	}
	return err
}

// DecodeText extracts the JSON document embedded as text in the first content
// part of a tool result. Text that is not JSON is returned as a JSON string.
func DecodeText(result json.RawMessage) (json.RawMessage, error) {
	var res protocol.CallResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	if len(res.Content) == 0 {
		return nil, errors.New("tool result has no content")
	}
	text := []byte(res.Content[0].Text)
	if json.Valid(text) {
		return json.RawMessage(text), nil
	}
	quoted, err := json.Marshal(res.Content[0].Text)
	if err != nil {
		return nil, err
	}
	return quoted, nil
}
