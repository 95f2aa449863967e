package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/protocol"
)

// QueryToolName is the name of the ad-hoc SQL tool.
const QueryToolName = "query_analytics"

// Querier runs ad-hoc SQL against the analytics workspace.
type Querier interface {
	Query(ctx context.Context, sql string) ([]gateway.Row, error)
}

// QueryTool runs SQL against the workspace. The statement is forwarded verbatim.
type QueryTool struct {
	querier Querier
	logger  *logrus.Entry
}

// NewQueryTool constructs the query tool.
func NewQueryTool(q Querier, logger *logrus.Entry) *QueryTool {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &QueryTool{querier: q, logger: logger.WithField("tool", QueryToolName)}
}

func (t *QueryTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name: QueryToolName,
		Description: `Run a SQL SELECT against the analytics workspace and return the rows.

Use only when no get_* report answers the question. Always filter by the vendor's PAN.`,
		InputSchema: &protocol.JSONSchema{
			Type: "object",
			Properties: map[string]protocol.JSONSchema{
				"sql": {Type: "string", Description: "SQL statement to run"},
			},
			Required: []string{"sql"},
		},
	}
}

type queryArgs struct {
	SQL string `json:"sql"`
}

type queryPayload struct {
	Fallback bool          `json:"fallback,omitempty"`
	Error    string        `json:"error,omitempty"`
	RowCount int           `json:"row_count"`
	Rows     []gateway.Row `json:"rows"`
}

func (t *QueryTool) Invoke(ctx context.Context, raw json.RawMessage) (protocol.CallResult, *protocol.ResponseError) {
	var args queryArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return protocol.CallResult{}, &protocol.ResponseError{Code: -32602, Message: "invalid arguments"}
		}
	}
	if strings.TrimSpace(args.SQL) == "" {
		return protocol.CallResult{}, &protocol.ResponseError{Code: -32602, Message: "sql is required"}
	}

	var payload queryPayload
	rows, err := t.querier.Query(ctx, args.SQL)
	if err != nil {
		t.logger.WithError(err).WithField("kind", failureKind(err)).Warn("query failed; returning fallback")
		payload.Fallback = true
		payload.Error = err.Error()
		rows = []gateway.Row{}
	}
	payload.Rows = rows
	payload.RowCount = len(rows)
	return jsonResult(payload)
}
