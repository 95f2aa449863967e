package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/protocol"
	"github.com/vendorportal/report-gateway/internal/reports"
)

// Fetcher is the part of the gateway a report tool needs.
type Fetcher interface {
	Fetch(ctx context.Context, slug, pan string) ([]gateway.Row, error)
}

// ReportTool exposes one report as a tool named get_<slug>.
type ReportTool struct {
	report  reports.Report
	fetcher Fetcher
	logger  *logrus.Entry
}

// NewReportTool binds a report to the fetcher that serves it.
func NewReportTool(rep reports.Report, f Fetcher, logger *logrus.Entry) *ReportTool {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ReportTool{report: rep, fetcher: f, logger: logger.WithField("tool", ToolName(rep.Slug))}
}

// ToolName is the tool name for a report slug.
func ToolName(slug string) string { return "get_" + slug }

// Report returns the bound report definition.
func (t *ReportTool) Report() reports.Report { return t.report }

func (t *ReportTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        ToolName(t.report.Slug),
		Description: fmt.Sprintf("Retrieve '%s' data (View ID: %s).", t.report.Title, t.report.ViewID),
		InputSchema: &protocol.JSONSchema{
			Type: "object",
			Properties: map[string]protocol.JSONSchema{
				"pan": {Type: "string", Description: "Vendor PAN to filter by; defaults to the configured vendor"},
			},
			Required: []string{},
		},
	}
}

// Call fetches the report rows for pan.
func (t *ReportTool) Call(ctx context.Context, pan string) ([]gateway.Row, error) {
	return t.fetcher.Fetch(ctx, t.report.Slug, pan)
}

type reportArgs struct {
	PAN string `json:"pan"`
}

// reportPayload is the text body of every report tool result.
type reportPayload struct {
	Report   string        `json:"report"`
	Title    string        `json:"title"`
	PAN      string        `json:"pan,omitempty"`
	Fallback bool          `json:"fallback,omitempty"`
	Error    string        `json:"error,omitempty"`
	RowCount int           `json:"row_count"`
	Rows     []gateway.Row `json:"rows"`
}

// Invoke fetches the report. A failed fetch still yields a result, labelled as a
// fallback with no rows, so the caller can keep answering.
func (t *ReportTool) Invoke(ctx context.Context, raw json.RawMessage) (protocol.CallResult, *protocol.ResponseError) {
	var args reportArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return protocol.CallResult{}, &protocol.ResponseError{Code: -32602, Message: "invalid arguments"}
		}
	}
	pan := strings.TrimSpace(args.PAN)

	payload := reportPayload{Report: t.report.Slug, Title: t.report.Title, PAN: pan}
	rows, err := t.Call(ctx, pan)
	switch {
	case err == nil:
		payload.Rows = rows
	case errors.Is(err, reports.ErrNotFound):
		return protocol.CallResult{}, &protocol.ResponseError{Code: -32004, Message: err.Error()}
	default:
		t.logger.WithError(err).WithField("kind", failureKind(err)).Warn("report fetch failed; returning fallback")
		payload.Fallback = true
		payload.Error = err.Error()
		payload.Rows = []gateway.Row{}
	}
	payload.RowCount = len(payload.Rows)
	return jsonResult(payload)
}

func failureKind(err error) string {
	var fe *gateway.FetchError
	var remote *mcpclient.RemoteToolError
	switch {
	case errors.Is(err, mcpclient.ErrNotConfigured):
		return "not_configured"
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &remote):
		return "remote"
	}
	if k := mcpclient.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}

func jsonResult(v any) (protocol.CallResult, *protocol.ResponseError) {
	buf, err := json.Marshal(v)
	if err != nil {
		return protocol.CallResult{}, &protocol.ResponseError{Code: -32603, Message: "encode result: " + err.Error()}
	}
	return protocol.TextResult(string(buf)), nil
}
