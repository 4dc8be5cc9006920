package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/MrSnakeDoc/nostrmarks/internal/app"
	"github.com/MrSnakeDoc/nostrmarks/internal/config"
	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/sources/homepage"
	"github.com/MrSnakeDoc/nostrmarks/internal/version"
)

const usage = `nostrmarks control.

Identity, relay sets and timeouts come from the same NOSTRMARKS_* environment
as the service. Mutations need NOSTRMARKS_SECRET_KEY.

Usage:
    nostrmarksctl relays [--timeout=<timeout>] [--json]
    nostrmarksctl discover [--timeout=<timeout>] [--json]
    nostrmarksctl list [--timeout=<timeout>] [--json]
    nostrmarksctl delete <id> [--timeout=<timeout>]
    nostrmarksctl add <url> [<title>] [--timeout=<timeout>]
    nostrmarksctl add-note <id> [<title>] [--hint=<relay>] [--timeout=<timeout>]
    nostrmarksctl import <bookmarks_yaml> [--timeout=<timeout>]
    nostrmarksctl -h | --help
    nostrmarksctl --version

Options:
    -h --help             Show this screen.
    --version             Show version.
    --timeout=<timeout>   Give up after this long [default: 60s].
    --hint=<relay>        Relay where the note can be found.
    --json                Print JSON instead of a table.`

var (
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", 0)
)

type command func(ctx context.Context, core *app.Core, opts docopt.Opts) error

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version.String())
	if err != nil {
		Err.Fatalf("❌ %v", err)
	}

	commands := []struct {
		name string
		run  command
	}{
		{"relays", relays},
		{"discover", discover},
		{"list", list},
		{"delete", deleteBookmark},
		{"add", addWebsite},
		{"add-note", addNote},
		{"import", importBookmarks},
	}

	for _, c := range commands {
		if selected, _ := opts.Bool(c.name); selected {
			if err := run(opts, c.run); err != nil {
				Err.Fatalf("❌ %s: %v", c.name, err)
			}
			return
		}
	}
}

func run(opts docopt.Opts, cmd command) error {
	timeout, err := parseTimeout(opts)
	if err != nil {
		return err
	}

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Warn("close failed", logger.Error(err))
		}
	}()

	return cmd(ctx, core, opts)
}

func parseTimeout(opts docopt.Opts) (time.Duration, error) {
	raw, _ := opts.String("--timeout")
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --timeout %q", raw)
	}
	return d, nil
}

func relays(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	if err := core.Connect(ctx); err != nil {
		Err.Printf("⚠️  %v", err)
	}

	records := core.Relays.Statuses()
	if asJSON(opts) {
		return printJSON(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tSTATUS\tTARGET\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", r.URL, r.Status, r.IsTarget, r.LastError)
	}
	return w.Flush()
}

func discover(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	entries := core.Discovery.ResolveRelays(ctx, core.Author)
	if asJSON(opts) {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		Out.Printf("no relay list published, bootstrap relays would be used: %v", core.Discovery.Bootstrap())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tREAD\tWRITE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%v\t%v\n", e.URL, e.Read, e.Write)
	}
	return w.Flush()
}

func list(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	if err := core.Connect(ctx); err != nil {
		Err.Printf("⚠️  %v", err)
	}

	entries, err := core.Bookmarks.FetchBookmarks(ctx, core.Author)
	if err != nil {
		return err
	}
	if asJSON(opts) {
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tTITLE\tID")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, e.Title, e.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	Out.Printf("%d bookmarks", len(entries))
	return nil
}

func deleteBookmark(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	if err := connectForWrite(ctx, core); err != nil {
		return err
	}
	if err := core.Bookmarks.DeleteBookmark(ctx, id, core.Author, core.Signer); err != nil {
		return err
	}
	Out.Printf("✅ deleted %s", id)
	return nil
}

func addWebsite(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	url, _ := opts.String("<url>")
	title, _ := opts.String("<title>")
	return add(ctx, core, domain.NewWebsiteEntry(url, title))
}

func addNote(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	title, _ := opts.String("<title>")
	hint, _ := opts.String("--hint")
	return add(ctx, core, domain.NewNoteEntry(id, hint, title))
}

func add(ctx context.Context, core *app.Core, entry domain.BookmarkEntry) error {
	if err := connectForWrite(ctx, core); err != nil {
		return err
	}
	if err := core.Bookmarks.AddBookmark(ctx, entry, core.Author, core.Signer); err != nil {
		return err
	}
	Out.Printf("✅ added %s (%s)", entry.ID, entry.Title)
	return nil
}

func importBookmarks(ctx context.Context, core *app.Core, opts docopt.Opts) error {
	path, _ := opts.String("<bookmarks_yaml>")
	cfg, err := homepage.NewLoader(path).Load()
	if err != nil {
		return err
	}
	entries, err := homepage.MapBookmarks(cfg)
	if err != nil {
		return err
	}

	if err := connectForWrite(ctx, core); err != nil {
		return err
	}
	added, err := core.Bookmarks.ImportBookmarks(ctx, entries, core.Author, core.Signer)
	if err != nil {
		return err
	}
	Out.Printf("✅ imported %d of %d bookmarks", added, len(entries))
	return nil
}

// connectForWrite needs at least one of the user's relays: a list published
// nowhere is lost.
func connectForWrite(ctx context.Context, core *app.Core) error {
	if err := core.Connect(ctx); err != nil {
		return fmt.Errorf("cannot publish: %w", err)
	}
	return nil
}

func asJSON(opts docopt.Opts) bool {
	v, _ := opts.Bool("--json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
