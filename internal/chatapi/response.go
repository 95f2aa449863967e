package chatapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/reports"
)

type respError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Ok    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *respError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func RespondOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, response{Ok: true, Data: data}, status)
}

func RespondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, response{Ok: false, Error: &respError{Code: code, Message: message}}, status)
}

// respondFetchError maps gateway and client errors onto HTTP statuses.
func respondFetchError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	RespondError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	var fe *gateway.FetchError
	var remote *mcpclient.RemoteToolError
	var te *mcpclient.TransportError
	switch {
	case errors.Is(err, reports.ErrNotFound):
		return http.StatusNotFound, "REPORT_NOT_FOUND"
	case errors.Is(err, mcpclient.ErrNotConfigured):
		return http.StatusServiceUnavailable, "NOT_CONFIGURED"
	case errors.As(err, &te):
		return http.StatusBadGateway, "TRANSPORT_" + strings.ToUpper(string(te.Kind))
	case errors.As(err, &remote):
		return http.StatusBadGateway, "REMOTE_TOOL_ERROR"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "EXPORT_UNUSABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
