package chatapi

import (
	"net/http"
	"strings"

	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/reports"
)

type reportRows struct {
	Report   reports.Report `json:"report"`
	PAN      string         `json:"pan"`
	RowCount int            `json:"row_count"`
	Rows     []gateway.Row  `json:"rows"`
}

type vendorResult struct {
	RowCount int           `json:"row_count"`
	Rows     []gateway.Row `json:"rows,omitempty"`
	Error    *respError    `json:"error,omitempty"`
}

func (h *Handler) handleListReports(w http.ResponseWriter, _ *http.Request) {
	RespondOK(w, http.StatusOK, map[string]any{
		"default_pan": h.reports.DefaultPAN(),
		"reports":     h.reports.Reports(),
	})
}

func (h *Handler) handleFetchReport(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	rep, err := h.reports.Report(slug)
	if err != nil {
		respondFetchError(w, err)
		return
	}

	pan := strings.TrimSpace(r.URL.Query().Get("pan"))
	rows, err := h.reports.Fetch(r.Context(), slug, pan)
	if err != nil {
		h.logger.WithError(err).WithField("slug", slug).Warn("report fetch failed")
		respondFetchError(w, err)
		return
	}
	if pan == "" {
		pan = h.reports.DefaultPAN()
	}
	RespondOK(w, http.StatusOK, reportRows{Report: rep, PAN: pan, RowCount: len(rows), Rows: rows})
}

// handleVendorReports fetches several reports for one vendor. Individual
// failures are reported per slug; the request itself still succeeds.
func (h *Handler) handleVendorReports(w http.ResponseWriter, r *http.Request) {
	pan := strings.TrimSpace(r.PathValue("pan"))
	if pan == "" {
		RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "pan required")
		return
	}

	slugs := r.URL.Query()["slug"]
	if len(slugs) == 0 {
		for _, rep := range h.reports.Reports() {
			slugs = append(slugs, rep.Slug)
		}
	}

	results := h.reports.FetchMany(r.Context(), slugs, pan)
	out := make(map[string]vendorResult, len(results))
	for slug, res := range results {
		if res.Err != nil {
			_, code := errorStatus(res.Err)
			out[slug] = vendorResult{Error: &respError{Code: code, Message: res.Err.Error()}}
			continue
		}
		out[slug] = vendorResult{RowCount: len(res.Rows), Rows: res.Rows}
	}
	RespondOK(w, http.StatusOK, map[string]any{"pan": pan, "results": out})
}
