package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/protocol"
)

// LLM calls an OpenAI-compatible chat completions API.
type LLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewLLM configures an OpenAI-compatible caller.
func NewLLM(apiKey, model, baseURL string, timeout time.Duration) *LLM {
	url := strings.TrimRight(baseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{
		apiKey:     apiKey,
		model:      model,
		baseURL:    url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Available reports whether an API key is set. Placeholder keys such as
// "your_openai_key" count as missing.
func (c *LLM) Available() bool {
	return c != nil && !mcpclient.IsPlaceholder(c.apiKey)
}

// Model is the default model name.
func (c *LLM) Model() string { return c.model }

// Complete sends one chat completion request.
func (c *LLM) Complete(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	var resp ChatCompletionResponse
	if !c.Available() {
		return resp, errors.New("missing LLM API key")
	}
	if req.Model == "" {
		req.Model = c.model
	}
	req.Temperature = sanitizeTemperature(req.Model, req.Temperature)

	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("encode llm request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return resp, fmt.Errorf("build llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("call llm: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 400 {
			msg = msg[:400] + "..."
		}
		return resp, fmt.Errorf("llm status %d: %s", httpResp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, &resp); err != nil {
		return resp, fmt.Errorf("decode llm response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return resp, errors.New("llm returned no choices")
	}
	return resp, nil
}

// convertTools maps MCP tool descriptors to the OpenAI tools schema.
func convertTools(tools []protocol.ToolDescriptor) []OATool {
	out := make([]OATool, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if t.InputSchema != nil {
			params = toParameterMap(*t.InputSchema)
		}
		out = append(out, OATool{
			Type: "function",
			Function: OAFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// toParameterMap converts our JSONSchema to a generic map for OpenAI.
func toParameterMap(s protocol.JSONSchema) map[string]any {
	if s.Type == "" {
		s.Type = "object"
	}
	m := map[string]any{"type": s.Type}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	if s.Properties != nil {
		props := map[string]any{}
		for k, v := range s.Properties {
			props[k] = toParameterMap(v)
		}
		m["properties"] = props
	} else if s.Type == "object" {
		m["properties"] = map[string]any{}
	}
	if s.Items != nil {
		m["items"] = toParameterMap(*s.Items)
	} else if s.Type == "array" {
		m["items"] = map[string]any{}
	}
	if s.AdditionalProperties != nil {
		m["additionalProperties"] = s.AdditionalProperties
	}
	return m
}

// sanitizeTemperature omits temperature when the target model does not support custom values.
// Mini models reject non-default temps; drop to avoid 400s.
func sanitizeTemperature(model string, t *float64) *float64 {
	if t == nil {
		return nil
	}
	lowerModel := strings.ToLower(strings.TrimSpace(model))
	if (strings.Contains(lowerModel, "mini") || strings.Contains(lowerModel, "gpt-4.1") || strings.Contains(lowerModel, "gpt-4o")) && *t != 1.0 {
		return nil
	}
	return t
}
