package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

// NewHTTPHandler serves MCP JSON-RPC requests via POST to the root path, one
// request per call, plus GET /health.
func NewHTTPHandler(server *Server, logger *logrus.Entry) http.Handler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req protocol.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, protocol.Response{JSONRPC: protocol.Version, Error: &protocol.ResponseError{Code: -32700, Message: "invalid JSON"}}, http.StatusBadRequest)
			return
		}

		resp, err := server.Handle(r.Context(), req)
		if err != nil {
			logger.WithError(err).WithField("method", req.Method).Error("mcp request failed")
			writeJSON(w, WriteError(req.ID, -32603, "internal error", err), http.StatusInternalServerError)
			return
		}
		if req.ID == nil && resp.Result == nil && resp.Error == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if resp.Error != nil {
			logger.WithFields(logrus.Fields{"method": req.Method, "code": resp.Error.Code}).Debug(resp.Error.Message)
		}

		writeJSON(w, resp, http.StatusOK)
	})
	return mux
}

// RunHTTP starts an HTTP server that serves MCP JSON-RPC requests on addr.
func RunHTTP(server *Server, addr string, logger *logrus.Entry) error {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger.WithField("tools", server.Toolbox().Len()).Infof("HTTP MCP server listening on %s", addr)
	return http.ListenAndServe(addr, NewHTTPHandler(server, logger))
}

func writeJSON(w http.ResponseWriter, resp protocol.Response, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
}
