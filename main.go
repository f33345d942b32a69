package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/andybalholm/cascadia"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/sahir247/phishlens/internal/applog"
	"github.com/sahir247/phishlens/internal/bridge"
	"github.com/sahir247/phishlens/internal/coordinator"
	"github.com/sahir247/phishlens/internal/fetch"
	"github.com/sahir247/phishlens/internal/history"
	"github.com/sahir247/phishlens/internal/popup"
	"github.com/sahir247/phishlens/internal/presenter"
	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/scorer"
	"github.com/sahir247/phishlens/internal/store"
	"github.com/sahir247/phishlens/internal/tui"
	"github.com/sahir247/phishlens/internal/types"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "watch":
			runWatch(os.Args[2:])
			return
		case "scan":
			runScan(os.Args[2:])
			return
		case "events":
			runEvents(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	runDaemon(os.Args[1:])
}

func printHelp() {
	fmt.Print(`phishlens — phishing-risk companion for the browser extension

Usage:
  phishlens                                  Run the daemon (default)
    --port <n>             WebSocket port for the extension (default: 19333)
    --api <url>            Scoring API base URL (default: http://127.0.0.1:8000)
    --db <path>            Detection history database path
    --no-history           Disable the detection history log

  phishlens watch                            Daemon plus a live results view
    --port <n>             WebSocket port for the extension (default: 19333)
    --api <url>            Scoring API base URL (default: http://127.0.0.1:8000)
    --db <path>            Detection history database path
    --no-history           Disable the detection history log

  phishlens scan <url>                       Score a single page and exit
    --api <url>            Scoring API base URL (default: http://127.0.0.1:8000)

  phishlens events                           Recent detections from the API
    --api <url>            Scoring API base URL (default: http://127.0.0.1:8000)
    --limit <n>            Maximum events to fetch (default: 20)
    --filter <s>           Only show events whose URL contains <s>

  phishlens history                          Local detection history
    --db <path>            Detection history database path
    --limit <n>            Maximum rows to show (default: 20)
    --html <id>            Print the captured page HTML for one detection

Environment:
  PHISHLENS_API          Scoring API base URL (overridden by --api flag)
`)
}

// resolveAPI returns the API base from the flag if set, otherwise the
// PHISHLENS_API environment variable, otherwise the default.
func resolveAPI(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("PHISHLENS_API"); env != "" {
		return env
	}
	return scorer.DefaultBaseURL
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		var err error
		path, err = history.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return history.OpenDB(path)
}

func logDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "phishlens")
}

// daemonParts wires the store, router, scorer, coordinator, bridge and
// popup service together. The caller owns the returned bridge and
// coordinator lifecycles; db is nil when history is disabled.
func daemonParts(port int, apiBase string, dbPath string, noHistory bool) (*bridge.Bridge, *coordinator.Coordinator, *sql.DB, error) {
	st := store.New()
	rt := router.New()
	sc := scorer.New(apiBase)
	br := bridge.New(port)

	c := coordinator.New(st, rt, sc, br)
	rt.Forward(br.ForwardPush)
	br.SetPopup(popup.New(rt, br, c.Subscribe))

	var db *sql.DB
	if !noHistory {
		var err error
		db, err = openDB(dbPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open history db: %w", err)
		}
		c.OnSettle(func(rec *types.AnalysisRecord, html string) {
			if err := history.Append(db, rec, html); err != nil {
				applog.Error("history.append", err, "tab", rec.TabID)
			}
		})
	}

	return br, c, db, nil
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("phishlens", flag.ExitOnError)
	port := fs.Int("port", bridge.DefaultPort, "WebSocket port for the extension")
	apiBase := fs.String("api", "", "Scoring API base URL")
	dbPath := fs.String("db", "", "Detection history database path")
	noHistory := fs.Bool("no-history", false, "Disable the detection history log")
	fs.Parse(args)

	if err := applog.Init(logDir()); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer applog.Close()

	br, c, db, err := daemonParts(*port, resolveAPI(*apiBase), *dbPath, *noHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applog.Info("daemon.start", "port", *port)
	fmt.Fprintf(os.Stderr, "phishlens listening for the extension on :%d\n", *port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return br.ListenAndServe(ctx)
	})
	g.Go(func() error {
		c.Run(ctx, br.Events())
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	port := fs.Int("port", bridge.DefaultPort, "WebSocket port for the extension")
	apiBase := fs.String("api", "", "Scoring API base URL")
	dbPath := fs.String("db", "", "Detection history database path")
	noHistory := fs.Bool("no-history", false, "Disable the detection history log")
	fs.Parse(args)

	if err := applog.Init(logDir()); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer applog.Close()

	api := resolveAPI(*apiBase)
	br, c, db, err := daemonParts(*port, api, *dbPath, *noHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go br.ListenAndServe(ctx)
	go c.Run(ctx, br.Events())

	model := tui.NewModel(c.Router(), br, scorer.New(api))
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	apiBase := fs.String("api", "", "Scoring API base URL")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: phishlens scan <url> [--api base]")
		os.Exit(1)
	}
	pageURL := fs.Arg(0)

	title, page, err := fetch.Page(pageURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching page: %v\n", err)
		os.Exit(1)
	}

	sc := scorer.New(resolveAPI(*apiBase))
	rec, err := sc.Check(context.Background(), pageURL, page)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scoring page: %v\n", err)
		os.Exit(1)
	}

	tier := types.TierFor(rec.RiskScore)
	if title != "" {
		fmt.Printf("%s\n", title)
	}
	fmt.Printf("%s\n", pageURL)
	fmt.Printf("Risk: %s\n", tierLabel(tier, fmt.Sprintf("%d%% (%s)", types.Pct(rec.RiskScore), tier)))
	for _, r := range rec.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	if rec.Meta.Domain != "" {
		fmt.Printf("Domain: %s\n", rec.Meta.Domain)
	}

	// Run the page presenter offline over the fetched document to show
	// what the banner and highlights would look like in the browser.
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return
	}
	pres := presenter.New(0, router.New(), doc)
	pres.OnResult(rec)
	marked := pres.Apply(rec.Highlights)
	if banner := pres.Banner(); banner.Visible {
		fmt.Printf("Banner: %s\n", banner.Text)
	}
	if len(rec.Highlights) > 0 {
		fmt.Printf("Highlights: %d of %d selectors matched %d elements\n",
			matchedSelectors(doc, rec.Highlights), len(rec.Highlights), marked)
	}
}

// matchedSelectors counts the selectors that parse and match at least one
// element in the document.
func matchedSelectors(doc *html.Node, selectors []string) int {
	n := 0
	for _, s := range selectors {
		sel, err := cascadia.Parse(s)
		if err != nil {
			continue
		}
		if len(cascadia.QueryAll(doc, sel)) > 0 {
			n++
		}
	}
	return n
}

func runEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	apiBase := fs.String("api", "", "Scoring API base URL")
	limit := fs.Int("limit", 20, "Maximum events to fetch")
	filter := fs.String("filter", "", "Only show events whose URL contains this substring")
	fs.Parse(args)

	sc := scorer.New(resolveAPI(*apiBase))
	events, err := sc.Events(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *filter != "" {
		kept := events[:0]
		for _, e := range events {
			if strings.Contains(e.URL, *filter) {
				kept = append(kept, e)
			}
		}
		events = kept
	}

	if len(events) == 0 {
		fmt.Println("No events.")
		return
	}

	fmt.Printf("%-5s %-16s  %5s  %s\n", "ID", "TIME", "RISK", "URL")
	for _, e := range events {
		risk := tierLabel(types.TierFor(e.RiskScore), fmt.Sprintf("%4d%%", types.Pct(e.RiskScore)))
		fmt.Printf("%5d %-16s  %s  %s\n", e.ID, e.Time().Format("2006-01-02 15:04"), risk, e.URL)
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", "", "Detection history database path")
	limit := fs.Int("limit", 20, "Maximum rows to show")
	htmlID := fs.Int64("html", 0, "Print the captured page HTML for one detection")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *htmlID != 0 {
		html, err := history.HTMLFor(db, *htmlID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(html)
		return
	}

	rows, err := history.List(db, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("No detections recorded.")
		return
	}

	fmt.Printf("%-5s %-16s %5s  %5s  %-24s %s\n", "ID", "TIME", "TAB", "RISK", "DOMAIN", "URL")
	for _, d := range rows {
		risk := tierLabel(types.TierFor(d.RiskScore), fmt.Sprintf("%4d%%", types.Pct(d.RiskScore)))
		fmt.Printf("%5d %-16s %5d  %s  %-24s %s\n",
			d.ID, d.DetectedAt.Format("2006-01-02 15:04"), d.TabID, risk, d.Domain, d.URL)
	}
}

// tierLabel colors a label with the tier's badge color when stdout is a
// terminal; lipgloss degrades to plain text otherwise.
func tierLabel(t types.Tier, s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(t.Color())).Render(s)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 0 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if i+1 < len(args) && !isFlag(args[i+1]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}
