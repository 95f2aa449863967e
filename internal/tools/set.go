// Package tools adapts report fetches into MCP tools: one get_<slug> tool per
// registered report plus an ad-hoc query tool.
package tools

import (
	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/mcp"
	"github.com/vendorportal/report-gateway/internal/reports"
)

// Source is what the tool set is built from. *gateway.Gateway satisfies it.
type Source interface {
	Fetcher
	Querier
	Reports() []reports.Report
}

// Set is the fixed collection of tools built once at startup.
type Set struct {
	reports []*ReportTool
	query   *QueryTool
	byName  map[string]mcp.Tool
}

// NewSet builds one report tool per report, in report-number order, plus the query tool.
func NewSet(src Source, logger *logrus.Entry) *Set {
	s := &Set{byName: make(map[string]mcp.Tool)}
	for _, rep := range src.Reports() {
		t := NewReportTool(rep, src, logger)
		s.reports = append(s.reports, t)
		s.byName[t.Descriptor().Name] = t
	}
	s.query = NewQueryTool(src, logger)
	s.byName[QueryToolName] = s.query
	return s
}

// Tools returns every tool, report tools first.
func (s *Set) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(s.reports)+1)
	for _, t := range s.reports {
		out = append(out, t)
	}
	return append(out, s.query)
}

// Lookup finds a tool by name.
func (s *Set) Lookup(name string) (mcp.Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Toolbox wraps the set for the MCP server.
func (s *Set) Toolbox() *mcp.Toolbox {
	return mcp.NewToolbox(s.Tools()...)
}
