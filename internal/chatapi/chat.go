package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

const vendorHeader = "X-Vendor-PAN"

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warnf("bad request: %v", err)
		RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "message required")
		return
	}

	if !h.llm.Available() {
		writeJSON(w, ChatResponse{Response: mockReply(req.Message), Offline: true}, http.StatusOK)
		return
	}

	resp, err := h.converse(r.Context(), ChatCompletionRequest{
		Messages: []OAChatMessage{{Role: "user", Content: req.Message}},
	}, req.VendorID)
	if err != nil {
		h.logger.WithError(err).Warn("chat failed; answering in offline mode")
		writeJSON(w, ChatResponse{
			Response: fmt.Sprintf("I'm currently running in offline mode. (Error: %v)", err),
			Offline:  true,
		}, http.StatusOK)
		return
	}
	writeJSON(w, ChatResponse{Response: resp.Choices[0].Message.Content}, http.StatusOK)
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warnf("bad request: %v", err)
		RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "messages required")
		return
	}
	if !h.llm.Available() {
		RespondError(w, http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "no LLM API key configured")
		return
	}

	resp, err := h.converse(r.Context(), req, r.Header.Get(vendorHeader))
	if err != nil {
		h.logger.Errorf("llm error: %v", err)
		RespondError(w, http.StatusBadGateway, "LLM_ERROR", err.Error())
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// converse runs the two-pass tool loop: the model picks tools, the tools run
// locally, and the model answers with their results.
func (h *Handler) converse(ctx context.Context, req ChatCompletionRequest, pan string) (ChatCompletionResponse, error) {
	pan = strings.TrimSpace(pan)
	messages := append([]OAChatMessage{{Role: "system", Content: systemPrompt(pan)}}, req.Messages...)

	first, err := h.llm.Complete(ctx, ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       convertTools(h.toolbox.Describe()),
		ToolChoice:  "auto",
		Temperature: req.Temperature,
	})
	if err != nil {
		return first, fmt.Errorf("first call: %w", err)
	}

	choice := first.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return first, nil
	}

	follow := make([]OAChatMessage, 0, len(messages)+1+len(choice.Message.ToolCalls))
	follow = append(follow, messages...)
	follow = append(follow, OAChatMessage{Role: "assistant", ToolCalls: choice.Message.ToolCalls})
	follow = append(follow, h.runToolCalls(ctx, choice.Message.ToolCalls, pan)...)

	second, err := h.llm.Complete(ctx, ChatCompletionRequest{
		Model:       req.Model,
		Messages:    follow,
		Temperature: req.Temperature,
	})
	if err != nil {
		return second, fmt.Errorf("second call: %w", err)
	}
	return second, nil
}

func (h *Handler) runToolCalls(ctx context.Context, calls []OAToolCall, pan string) []OAChatMessage {
	out := make([]OAChatMessage, 0, len(calls))
	for _, tc := range calls {
		args := mapFromRaw(json.RawMessage(tc.Function.Arguments))
		injectPAN(tc.Function.Name, pan, args)
		raw, _ := json.Marshal(args)

		var content string
		result, toolErr := h.toolbox.Call(ctx, tc.Function.Name, raw)
		if toolErr != nil {
			h.logger.WithField("tool", tc.Function.Name).Warnf("tool error: %s", toolErr.Message)
			buf, _ := json.Marshal(map[string]any{"error": toolErr.Message, "code": toolErr.Code})
			content = string(buf)
		} else {
			content = renderContent(result)
		}
		out = append(out, OAChatMessage{
			Role:       "tool",
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Content:    content,
		})
	}
	return out
}

// injectPAN fills the vendor PAN into report tool arguments when the model left it out.
func injectPAN(toolName, pan string, args map[string]any) {
	if pan == "" || args == nil || !strings.HasPrefix(toolName, "get_") {
		return
	}
	v, ok := args["pan"]
	if !ok || strings.TrimSpace(fmt.Sprint(v)) == "" {
		args["pan"] = pan
	}
}

// mapFromRaw attempts to turn raw JSON into a generic map; falls back to empty map on error.
func mapFromRaw(raw json.RawMessage) map[string]any {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// renderContent joins call result content parts into a string.
func renderContent(result protocol.CallResult) string {
	var sb strings.Builder
	for i, c := range result.Content {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func systemPrompt(pan string) string {
	var sb strings.Builder
	sb.WriteString(`You are a helpful assistant for a vendor portal.
Your goal is to assist vendors with their inquiries regarding invoices, payments, and account statements.
Each get_* tool returns one analytics report filtered by the vendor's PAN. ALWAYS call a tool before answering a data question.

If a tool result has "fallback": true, the data could not be retrieved; say so briefly and do not invent numbers.
Use query_analytics only when no get_* report fits.
Format lists of records as markdown tables. Be polite and concise.`)
	if pan != "" {
		fmt.Fprintf(&sb, "\n\nThe vendor's PAN is %s.", pan)
	}
	return sb.String()
}

// mockReply answers from canned data when no LLM is configured.
func mockReply(message string) string {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "invoice"):
		return "Here are your invoices:\n\n| Invoice | Date | Amount | Status |\n|---|---|---|---|\n| INV-001 | 2024-01-15 | $5000.00 | Paid |\n| INV-002 | 2024-02-20 | $7500.50 | Pending |"
	case strings.Contains(msg, "payment"):
		return "You have a payment of $5000.00 on 2024-01-20 for invoice INV-001."
	case strings.Contains(msg, "statement"):
		return "**Statement of Account**\n\nTotal Billed: $15,700.50\nTotal Paid: $5,000.00\nOutstanding: $10,700.50"
	default:
		return "I can help you with invoices, payments, and statements. What would you like to know?"
	}
}
