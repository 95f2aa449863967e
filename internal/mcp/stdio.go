package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

// ServeStdio serves line-delimited JSON-RPC from in to out until in is
// exhausted or ctx is canceled. Notifications produce no output.
func ServeStdio(ctx context.Context, server *Server, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(protocol.Response{JSONRPC: protocol.Version, ID: "0", Error: &protocol.ResponseError{Code: -32700, Message: "invalid JSON"}}); err != nil {
				return err
			}
			continue
		}

		resp, err := server.Handle(ctx, req)
		if err != nil {
			resp = WriteError(req.ID, -32603, "internal error", err)
		}
		if req.ID == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
