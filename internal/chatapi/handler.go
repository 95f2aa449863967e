package chatapi

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/mcp"
	"github.com/vendorportal/report-gateway/internal/reports"
	"github.com/vendorportal/report-gateway/internal/version"
)

// ReportService is the gateway surface the HTTP API uses. *gateway.Gateway satisfies it.
type ReportService interface {
	Reports() []reports.Report
	Report(slug string) (reports.Report, error)
	Fetch(ctx context.Context, slug, pan string) ([]gateway.Row, error)
	FetchMany(ctx context.Context, slugs []string, pan string) map[string]gateway.Result
	DefaultPAN() string
}

// Options configure the handler.
type Options struct {
	APIKey    string
	Allowlist string
	LLM       *LLM
}

// Handler serves the vendor chat endpoint, an OpenAI-compatible completions
// endpoint and the report REST API. Tool calls are resolved against the local toolbox.
type Handler struct {
	toolbox   *mcp.Toolbox
	reports   ReportService
	llm       *LLM
	apiKey    string
	allowlist string
	logger    *logrus.Entry
}

// NewHandler constructs the chat API handler.
func NewHandler(logger *logrus.Entry, toolbox *mcp.Toolbox, svc ReportService, opts Options) *Handler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		toolbox:   toolbox,
		reports:   svc,
		llm:       opts.LLM,
		apiKey:    opts.APIKey,
		allowlist: opts.Allowlist,
		logger:    logger,
	}
}

// Routes returns the HTTP handler with auth and request logging applied.
// /health and /version are never guarded.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	guard := NewAuthMiddleware(h.apiKey, h.allowlist)

	mux.Handle("POST /chat", guard(http.HandlerFunc(h.handleChat)))
	mux.Handle("POST /v1/chat/completions", guard(http.HandlerFunc(h.handleCompletions)))
	mux.Handle("GET /v1/reports", guard(http.HandlerFunc(h.handleListReports)))
	mux.Handle("GET /v1/reports/{slug}", guard(http.HandlerFunc(h.handleFetchReport)))
	mux.Handle("GET /v1/vendors/{pan}/reports", guard(http.HandlerFunc(h.handleVendorReports)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, version.Get(), http.StatusOK)
	})

	return RequestLogger(h.logger)(mux)
}
