package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vendorportal/report-gateway/internal/protocol"
	"github.com/vendorportal/report-gateway/internal/version"
)

// ServerName is reported in the initialize result.
const ServerName = "vendor-portal-report-gateway"

// Server handles MCP JSON-RPC requests against a toolbox.
type Server struct {
	toolbox *Toolbox
}

// NewServer wires a toolbox into an MCP server.
func NewServer(tb *Toolbox) *Server {
	return &Server{toolbox: tb}
}

// Toolbox returns the toolbox the server dispatches to.
func (s *Server) Toolbox() *Toolbox { return s.toolbox }

// Handle routes a single request. Notifications (no id) get an empty response
// the caller should not write back.
func (s *Server) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if err := validateJSONRPC(req); err != nil {
		return errorResponse(req.ID, err), nil
	}

	switch req.Method {
	case "initialize":
		return protocol.Response{JSONRPC: protocol.Version, ID: normalizeID(req.ID), Result: map[string]any{
			"protocolVersion": protocol.DefaultProtocolVersion,
			"serverInfo": map[string]string{
				"name":    ServerName,
				"version": version.Get().Version,
			},
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
		}}, nil
	case "notifications/initialized":
		return protocol.Response{}, nil
	case "ping":
		return protocol.Response{JSONRPC: protocol.Version, ID: normalizeID(req.ID), Result: map[string]any{}}, nil
	case "tools/list":
		return protocol.Response{JSONRPC: protocol.Version, ID: normalizeID(req.ID), Result: protocol.ListResult{Tools: s.toolbox.Describe()}}, nil
	case "tools/call":
		var params protocol.CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, &protocol.ResponseError{Code: -32602, Message: "invalid params"}), nil
		}
		if params.Name == "" {
			return errorResponse(req.ID, &protocol.ResponseError{Code: -32602, Message: "tool name required"}), nil
		}
		result, toolErr := s.toolbox.Call(ctx, params.Name, params.Args)
		if toolErr != nil {
			return errorResponse(req.ID, toolErr), nil
		}
		return protocol.Response{JSONRPC: protocol.Version, ID: normalizeID(req.ID), Result: result}, nil
	default:
		return errorResponse(req.ID, &protocol.ResponseError{Code: -32601, Message: "method not found"}), nil
	}
}

// WriteError builds a response with an error and wraps encode issues.
func WriteError(id any, code int, message string, err error) protocol.Response {
	detail := message
	if err != nil {
		detail = fmt.Sprintf("%s: %v", message, err)
	}
	return errorResponse(id, &protocol.ResponseError{Code: code, Message: detail})
}

func errorResponse(id any, err *protocol.ResponseError) protocol.Response {
	return protocol.Response{JSONRPC: protocol.Version, ID: normalizeID(id), Error: err}
}

func validateJSONRPC(req protocol.Request) *protocol.ResponseError {
	if req.JSONRPC != "" && req.JSONRPC != protocol.Version {
		return &protocol.ResponseError{Code: -32600, Message: "invalid jsonrpc version"}
	}
	if req.Method == "" {
		return &protocol.ResponseError{Code: -32600, Message: "method required"}
	}
	return nil
}

func normalizeID(id any) any {
	switch v := id.(type) {
	case nil:
		return "0"
	case string, float64, int, int32, int64, uint32, uint64:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
