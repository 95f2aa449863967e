// Package mcptest provides a scripted stdio MCP server. Test packages re-execute
// their own test binary as the server process by calling RunIfHelper from TestMain
// and pointing a local-mode client at os.Args[0] with the environment from Env.
package mcptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

const (
	// EnvMode selects the server behaviour; the helper is inactive when it is unset.
	EnvMode = "MCPTEST_MODE"
	// EnvPIDFile, when set, receives the server's pid at startup.
	EnvPIDFile = "MCPTEST_PID_FILE"
	// EnvDelay delays every tools/call response by a Go duration.
	EnvDelay = "MCPTEST_DELAY"
)

// Server behaviours.
const (
	// ModeOK exports {"data":[{view_id, criteria, client_id}]} to the requested path.
	ModeOK = "ok"
	// ModeRPCError writes the export file but answers tools/call with an error.
	ModeRPCError = "rpc-error"
	// ModeRPCErrorNoFile answers tools/call with an error and writes nothing.
	ModeRPCErrorNoFile = "rpc-error-nofile"
	// ModeNoFile answers tools/call with success but writes nothing.
	ModeNoFile = "no-file"
	// ModeBadFile writes a file that is not JSON.
	ModeBadFile = "bad-file"
	// ModeHang reads requests but never answers.
	ModeHang = "hang"
	// ModeGarbage answers initialize with a line that is not JSON.
	ModeGarbage = "garbage"
	// ModeExit exits before reading anything.
	ModeExit = "exit"
	// ModeWrongID answers with mismatched response ids.
	ModeWrongID = "wrong-id"
)

// RunIfHelper turns the current process into the fake server when EnvMode is set.
func RunIfHelper() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(Serve(os.Stdin, os.Stdout, mode))
}

// Env returns the environment entries that activate the helper in a child process.
func Env(mode string, extra ...string) []string {
	return append([]string{EnvMode + "=" + mode}, extra...)
}

// ReadPID reads the pid written by a helper started with EnvPIDFile.
func ReadPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Serve runs the scripted server until in is exhausted and returns an exit code.
func Serve(in io.Reader, out io.Writer, mode string) int {
	if path := os.Getenv(EnvPIDFile); path != "" {
		if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write pid file: %v\n", err)
			return 2
		}
	}
	if mode == ModeExit {
		fmt.Fprintln(os.Stderr, "fatal: refusing to start")
		return 1
	}

	var delay time.Duration
	if raw := os.Getenv(EnvDelay); raw != "" {
		delay, _ = time.ParseDuration(raw)
	}

	enc := json.NewEncoder(out)
	initialized := false
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			fmt.Fprintf(os.Stderr, "bad request line: %v\n", err)
			continue
		}
		if mode == ModeHang {
			continue
		}

		id := msg.ID
		if mode == ModeWrongID && len(id) > 0 {
			id = json.RawMessage("999")
		}

		switch msg.Method {
		case "initialize":
			if mode == ModeGarbage {
				fmt.Fprintln(out, "starting analytics server...")
				continue
			}
			_ = enc.Encode(map[string]any{
				"jsonrpc": "2.0",
				"method":  "notifications/message",
				"params":  map[string]any{"level": "info", "data": "analytics server starting"},
			})
			_ = enc.Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"result": map[string]any{
					"protocolVersion": protocol.DefaultProtocolVersion,
					"serverInfo":      map[string]string{"name": "mcptest", "version": "0.0.1"},
					"capabilities":    map[string]any{"tools": map[string]any{}},
				},
			})
		case "notifications/initialized":
			initialized = true
		case "tools/list":
			if !initialized {
				_ = enc.Encode(errorResponse(id, -32002, "server not initialized"))
				continue
			}
			_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": protocol.ListResult{Tools: []protocol.ToolDescriptor{
				{Name: "export_view", Description: "Export a view"},
				{Name: "query_data", Description: "Run a SQL query"},
			}}})
		case "tools/call":
			if !initialized {
				_ = enc.Encode(errorResponse(id, -32002, "server not initialized"))
				continue
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			_ = enc.Encode(handleCall(id, msg.Params, mode))
		default:
			if len(msg.ID) > 0 {
				_ = enc.Encode(errorResponse(id, -32601, "method not found"))
			}
		}
	}
	return 0
}

func handleCall(id json.RawMessage, rawParams json.RawMessage, mode string) map[string]any {
	var params struct {
		Name string         `json:"name"`
		Args map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return errorResponse(id, -32602, "invalid params")
	}
	path, _ := params.Args["response_file_path"].(string)

	var doc any
	switch params.Name {
	case "export_view":
		doc = map[string]any{"data": []map[string]any{{
			"view_id":   params.Args["view_id"],
			"criteria":  params.Args["criteria"],
			"client_id": os.Getenv("ANALYTICS_CLIENT_ID"),
		}}}
	case "query_data":
		doc = [][]any{
			{"sql_query", "workspace_id"},
			{params.Args["sql_query"], params.Args["workspace_id"]},
		}
	default:
		return errorResponse(id, -32601, "tool not found: "+params.Name)
	}

	if path != "" {
		switch mode {
		case ModeOK, ModeRPCError:
			raw, _ := json.Marshal(doc)
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return errorResponse(id, -32603, err.Error())
			}
		case ModeBadFile:
			_ = os.WriteFile(path, []byte("{not json"), 0o644)
		}
	}

	if mode == ModeRPCError || mode == ModeRPCErrorNoFile {
		return errorResponse(id, -32000, "export failed")
	}

	text, _ := json.Marshal(map[string]any{"status": "success", "file": path, "client_id": os.Getenv("ANALYTICS_CLIENT_ID")})
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  protocol.TextResult(string(text)),
	}
}

func errorResponse(id json.RawMessage, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   protocol.ResponseError{Code: code, Message: message},
	}
}
