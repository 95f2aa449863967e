// Package gateway fetches report rows for a vendor by asking the analytics MCP
// server to export a view to a file and reading that file back.
//
// Success is signalled on two channels: the RPC response and the export file.
// The file is authoritative. A parsable file is returned even when the RPC
// reported a failure; the RPC error is only surfaced when no usable file exists.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/reports"
)

// Remote tool names.
const (
	ExportTool = "export_view"
	QueryTool  = "query_data"
)

// DefaultPAN is used when neither the caller nor the configuration supplies a vendor PAN.
const DefaultPAN = "AAMCA0969R"

const (
	defaultMaxParallel  = 4
	defaultFetchTimeout = 5 * time.Minute
)

// Row is one exported record.
type Row = map[string]any

// Invoker calls a tool on the analytics MCP server. *mcpclient.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
}

// Catalog resolves report definitions. *reports.Registry satisfies it.
type Catalog interface {
	Get(slug string) (reports.Report, error)
	All() []reports.Report
}

// Config holds the gateway settings.
type Config struct {
	WorkspaceID string
	ExportDir   string
	DefaultPAN  string
	MaxParallel int

	// FetchTimeout bounds one shared export, including the wait for the slug lock.
	FetchTimeout time.Duration
}

// FetchError reports that no usable export file exists after a call the server
// did not reject.
type FetchError struct {
	Slug string
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: export %s: %v", e.Slug, e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result is the outcome of one report in FetchMany.
type Result struct {
	Rows []Row
	Err  error
}

// Gateway fetches report rows. It is safe for concurrent use.
type Gateway struct {
	catalog Catalog
	invoker Invoker
	cfg     Config
	logger  *logrus.Entry

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
	group singleflight.Group
}

// New builds a gateway and makes sure the export directory exists.
func New(cat Catalog, inv Invoker, cfg Config, logger *logrus.Entry) (*Gateway, error) {
	if cat == nil || inv == nil {
		return nil, errors.New("gateway: catalog and invoker are required")
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = os.TempDir()
	}
	if strings.TrimSpace(cfg.DefaultPAN) == "" {
		cfg.DefaultPAN = DefaultPAN
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{
		catalog: cat,
		invoker: inv,
		cfg:     cfg,
		logger:  logger,
		locks:   make(map[string]*semaphore.Weighted),
	}, nil
}

// Reports lists the reports the gateway can fetch, in report-number order.
func (g *Gateway) Reports() []reports.Report { return g.catalog.All() }

// Report resolves a single report definition.
func (g *Gateway) Report(slug string) (reports.Report, error) { return g.catalog.Get(slug) }

// DefaultPAN returns the PAN used when a caller omits one.
func (g *Gateway) DefaultPAN() string { return g.cfg.DefaultPAN }

// ExportPath is where the export for slug is written.
func (g *Gateway) ExportPath(slug string) string {
	return filepath.Join(g.cfg.ExportDir, slug+".json")
}

// Fetch exports a report for pan and returns its rows. An empty pan falls back
// to the configured default.
func (g *Gateway) Fetch(ctx context.Context, slug, pan string) ([]Row, error) {
	rep, err := g.catalog.Get(slug)
	if err != nil {
		return nil, err
	}
	if pan = strings.TrimSpace(pan); pan == "" {
		pan = g.cfg.DefaultPAN
	}
	if err := g.checkWorkspace(); err != nil {
		return nil, err
	}

	// Identical in-flight requests share one export; the rows are shared too.
	// The shared export ignores any one caller's cancellation and is bounded by
	// FetchTimeout; each caller waits on its own ctx.
	ch := g.group.DoChan(rep.Slug+"\x00"+pan, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.FetchTimeout)
		defer cancel()
		return g.fetch(shared, rep, pan)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Row), nil
	case <-ctx.Done():
		return nil, mcpclient.ContextError(ctx, ExportTool)
	}
}

func (g *Gateway) fetch(ctx context.Context, rep reports.Report, pan string) ([]Row, error) {
	// One export per slug at a time: the artifact path is shared by every PAN.
	lock := g.slugLock(rep.Slug)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, mcpclient.ContextError(ctx, ExportTool)
	}
	defer lock.Release(1)

	path := g.ExportPath(rep.Slug)
	log := g.logger.WithFields(logrus.Fields{
		"slug":       rep.Slug,
		"view_id":    rep.ViewID,
		"request_id": uuid.NewString(),
	})

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &FetchError{Slug: rep.Slug, Path: path, Err: fmt.Errorf("remove stale export: %w", err)}
	}

	started := time.Now()
	_, rpcErr := g.invoker.Invoke(ctx, ExportTool, map[string]any{
		"workspace_id":         g.cfg.WorkspaceID,
		"view_id":              rep.ViewID,
		"criteria":             rep.Criteria(pan),
		"response_file_format": "json",
		"response_file_path":   path,
	})
	log = log.WithField("duration", time.Since(started).Round(time.Millisecond))

	return g.collect(log, rep.Slug, path, rpcErr)
}

// Query runs an ad-hoc SQL statement against the workspace. The statement is
// forwarded as given.
func (g *Gateway) Query(ctx context.Context, sql string) ([]Row, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("query: empty sql")
	}
	if err := g.checkWorkspace(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(g.cfg.ExportDir, "query_"+id+".json")
	defer os.Remove(path)

	log := g.logger.WithFields(logrus.Fields{"tool": QueryTool, "request_id": id})
	started := time.Now()
	_, rpcErr := g.invoker.Invoke(ctx, QueryTool, map[string]any{
		"workspace_id":         g.cfg.WorkspaceID,
		"sql_query":            sql,
		"response_file_format": "json",
		"response_file_path":   path,
	})
	log = log.WithField("duration", time.Since(started).Round(time.Millisecond))

	return g.collect(log, "query", path, rpcErr)
}

// FetchMany fetches several reports for one PAN with bounded parallelism.
// Duplicate slugs are fetched once.
func (g *Gateway) FetchMany(ctx context.Context, slugs []string, pan string) map[string]Result {
	out := make(map[string]Result, len(slugs))
	seen := make(map[string]bool, len(slugs))
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.cfg.MaxParallel)
	for _, slug := range slugs {
		if seen[slug] {
			continue
		}
		seen[slug] = true
		eg.Go(func() error {
			rows, err := g.Fetch(ctx, slug, pan)
			mu.Lock()
			out[slug] = Result{Rows: rows, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (g *Gateway) collect(log *logrus.Entry, name, path string, rpcErr error) ([]Row, error) {
	rows, readErr := readRows(path)
	if readErr == nil {
		if rpcErr != nil {
			log.WithError(rpcErr).Warn("server reported failure but the export file is usable")
		}
		log.WithField("rows", len(rows)).Info("export read")
		return rows, nil
	}
	if rpcErr != nil {
		log.WithError(rpcErr).Warn("export failed")
		return nil, rpcErr
	}
	err := &FetchError{Slug: name, Path: path, Err: readErr}
	log.WithError(err).Warn("export file unusable")
	return nil, err
}

func (g *Gateway) checkWorkspace() error {
	if mcpclient.IsPlaceholder(g.cfg.WorkspaceID) {
		return fmt.Errorf("%w: missing workspace id", mcpclient.ErrNotConfigured)
	}
	return nil
}

func (g *Gateway) slugLock(slug string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[slug]
	if !ok {
		l = semaphore.NewWeighted(1)
		g.locks[slug] = l
	}
	return l
}
