package mcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

// Tool defines the behavior of a single MCP tool.
type Tool interface {
	Descriptor() protocol.ToolDescriptor
	Invoke(ctx context.Context, raw json.RawMessage) (protocol.CallResult, *protocol.ResponseError)
}

// Toolbox stores and dispatches tools by name. It is read-only after construction.
type Toolbox struct {
	tools map[string]Tool
	names []string
}

// NewToolbox constructs a toolbox with the provided tools. A later tool with
// the same name replaces an earlier one.
func NewToolbox(tools ...Tool) *Toolbox {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Descriptor().Name] = t
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Toolbox{tools: m, names: names}
}

// Describe returns all tool descriptors sorted by name.
func (tb *Toolbox) Describe() []protocol.ToolDescriptor {
	list := make([]protocol.ToolDescriptor, 0, len(tb.names))
	for _, name := range tb.names {
		list = append(list, tb.tools[name].Descriptor())
	}
	return list
}

// Len reports the number of tools.
func (tb *Toolbox) Len() int { return len(tb.names) }

// Call invokes a named tool.
func (tb *Toolbox) Call(ctx context.Context, name string, args json.RawMessage) (protocol.CallResult, *protocol.ResponseError) {
	tool, ok := tb.tools[name]
	if !ok {
		return protocol.CallResult{}, &protocol.ResponseError{Code: -32601, Message: "tool not found: " + name}
	}
	return tool.Invoke(ctx, args)
}
