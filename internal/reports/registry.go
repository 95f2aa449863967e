package reports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// PanPlaceholder is substituted with the vendor PAN when a criteria template is rendered.
const PanPlaceholder = "{pan}"

// Column names of the report list.
const (
	ColTitle         = "Title"
	ColViewID        = "Analytics View ID"
	ColCriteria      = "Portal Criteria"
	ColReportNumber  = "Report Number"
	ColPortalPageURL = "Portal Page URL"
	ColAdminPageURL  = "Admin Page URL"
)

var (
	// ErrConfigLoad is returned when the report list is missing or unreadable.
	ErrConfigLoad = errors.New("report config load failed")
	// ErrNotFound is returned for an unknown report slug.
	ErrNotFound = errors.New("report not found")
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Report is one analytics view that can be exported for a vendor.
type Report struct {
	Title            string `json:"title"`
	Slug             string `json:"slug"`
	ViewID           string `json:"view_id"`
	CriteriaTemplate string `json:"criteria_template"`
	Number           int    `json:"report_number"`
	PortalPageURL    string `json:"portal_page_url,omitempty"`
	AdminPageURL     string `json:"admin_page_url,omitempty"`
}

// Criteria renders the criteria template for a PAN.
func (r Report) Criteria(pan string) string {
	return strings.ReplaceAll(r.CriteriaTemplate, PanPlaceholder, pan)
}

// Registry is an ordered, slug-keyed set of reports. It is never mutated after Load.
type Registry struct {
	ordered []Report
	bySlug  map[string]int
}

// LoadFile reads the report list from a CSV file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a CSV report list. Rows without a title, view id or criteria are skipped.
func Load(r io.Reader) (*Registry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrConfigLoad, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		cols[strings.TrimSpace(name)] = i
	}

	var rows []Report
	for index := 1; ; index++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrConfigLoad, index, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		title := field(ColTitle)
		viewID := field(ColViewID)
		criteria := field(ColCriteria)
		if title == "" || viewID == "" || criteria == "" {
			continue
		}

		rows = append(rows, Report{
			Title:            title,
			Slug:             Slugify(title),
			ViewID:           viewID,
			CriteriaTemplate: NormalizeCriteria(criteria),
			Number:           parseReportNumber(field(ColReportNumber), index),
			PortalPageURL:    field(ColPortalPageURL),
			AdminPageURL:     field(ColAdminPageURL),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })

	reg := &Registry{bySlug: make(map[string]int, len(rows))}
	for _, rep := range rows {
		if i, ok := reg.bySlug[rep.Slug]; ok {
			reg.ordered[i] = rep
			continue
		}
		reg.bySlug[rep.Slug] = len(reg.ordered)
		reg.ordered = append(reg.ordered, rep)
	}
	return reg, nil
}

// Get returns the report registered under slug.
func (r *Registry) Get(slug string) (Report, error) {
	i, ok := r.bySlug[slug]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	return r.ordered[i], nil
}

// All returns every report in ascending report-number order.
func (r *Registry) All() []Report {
	out := make([]Report, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Slugs returns the registered slugs in iteration order.
func (r *Registry) Slugs() []string {
	out := make([]string, len(r.ordered))
	for i, rep := range r.ordered {
		out[i] = rep.Slug
	}
	return out
}

// Len reports the number of registered reports.
func (r *Registry) Len() int { return len(r.ordered) }

// Slugify derives the lookup key for a report title.
func Slugify(title string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(title), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "report"
	}
	return slug
}

// NormalizeCriteria turns a bare column reference such as `"T"."PAN" =` into
// a full equality filter against the PAN placeholder.
func NormalizeCriteria(raw string) string {
	if strings.Contains(raw, PanPlaceholder) {
		return raw
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasSuffix(trimmed, "=") {
		trimmed = strings.TrimRightFunc(strings.TrimSuffix(trimmed, "="), unicode.IsSpace)
	}
	return trimmed + " = '" + PanPlaceholder + "'"
}

func parseReportNumber(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}
