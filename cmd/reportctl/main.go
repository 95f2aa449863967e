// Command reportctl lists, fetches and queries vendor reports from the shell
// using the same gateway as the chat API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/vendorportal/report-gateway/internal/app"
	"github.com/vendorportal/report-gateway/internal/config"
	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/logging"
	"github.com/vendorportal/report-gateway/internal/version"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = cmdList(args)
	case "fetch":
		err = cmdFetch(args)
	case "query":
		err = cmdQuery(args)
	case "tools":
		err = cmdTools(args)
	case "version", "--version":
		fmt.Println(version.Get().String())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: reportctl <command> [flags]

Commands:
  list                      List configured reports
  fetch <slug>... [--pan]   Fetch one or more reports for a vendor
  query <sql>               Run SQL against the analytics workspace
  tools                     List tools exposed by the analytics MCP server
  version                   Print version

Common flags:
  --config <path>   YAML config file (default $REPORT_GATEWAY_CONFIG)
  --json            Print raw JSON instead of tables
  -v, --verbose     Debug logging on stderr`)
}

type common struct {
	configPath string
	asJSON     bool
	verbose    bool
	timeout    time.Duration
}

func newFlagSet(name string, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.configPath, "config", os.Getenv("REPORT_GATEWAY_CONFIG"), "path to YAML config file")
	fs.BoolVar(&c.asJSON, "json", false, "print raw JSON")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")
	fs.DurationVar(&c.timeout, "timeout", 5*time.Minute, "overall deadline")
	return fs
}

func (c *common) build() (*app.App, func(), error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	logger, cleanup, err := logging.New("reportctl", logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func (c *common) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func cmdList(args []string) error {
	var c common
	fs := newFlagSet("list", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, cleanup, err := c.build()
	if err != nil {
		return err
	}
	defer cleanup()

	all := a.Registry.All()
	if c.asJSON {
		return printJSON(os.Stdout, all)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%d reports (default PAN %s)\n\n", len(all), a.Gateway.DefaultPAN())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSLUG\tVIEW ID\tTITLE")
	for _, r := range all {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Number, r.Slug, r.ViewID, r.Title)
	}
	return w.Flush()
}

func cmdFetch(args []string) error {
	var c common
	var pan string
	fs := newFlagSet("fetch", &c)
	fs.StringVar(&pan, "pan", "", "vendor PAN (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slugs := fs.Args()
	if len(slugs) == 0 {
		return fmt.Errorf("fetch needs at least one report slug")
	}

	a, cleanup, err := c.build()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := c.context()
	defer cancel()
	results := a.Gateway.FetchMany(ctx, slugs, pan)

	if c.asJSON {
		out := make(map[string]any, len(results))
		for slug, res := range results {
			if res.Err != nil {
				out[slug] = map[string]string{"error": res.Err.Error()}
				continue
			}
			out[slug] = res.Rows
		}
		return printJSON(os.Stdout, out)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	failed := 0
	for _, slug := range sortedKeys(results) {
		res := results[slug]
		if res.Err != nil {
			failed++
			color.Red("%s: %v\n", slug, res.Err)
			continue
		}
		green.Printf("%s: %d rows\n", slug, len(res.Rows))
		if len(res.Rows) == 0 {
			yellow.Println("  (no rows)")
			continue
		}
		if err := printRows(os.Stdout, res.Rows); err != nil {
			return err
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(results))
	}
	return nil
}

func cmdQuery(args []string) error {
	var c common
	fs := newFlagSet("query", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sql := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if sql == "" {
		return fmt.Errorf("query needs an SQL statement")
	}

	a, cleanup, err := c.build()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := c.context()
	defer cancel()
	rows, err := a.Gateway.Query(ctx, sql)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(os.Stdout, rows)
	}
	color.New(color.FgGreen).Printf("%d rows\n", len(rows))
	return printRows(os.Stdout, rows)
}

func cmdTools(args []string) error {
	var c common
	fs := newFlagSet("tools", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, cleanup, err := c.build()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := c.context()
	defer cancel()
	tools, err := a.Client.ListTools(ctx)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(os.Stdout, tools)
	}

	cyan := color.New(color.FgCyan)
	for _, t := range tools {
		cyan.Printf("%s\n", t.Name)
		if t.Description != "" {
			fmt.Printf("  %s\n", firstLine(t.Description))
		}
	}
	return nil
}

// printRows renders rows as a table with columns in sorted order.
func printRows(out io.Writer, rows []gateway.Row) error {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			if v, ok := r[col]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]gateway.Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
