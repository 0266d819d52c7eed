package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/journal"
	"github.com/mattjoyce/bert/internal/log"
	"github.com/mattjoyce/bert/internal/registry"
)

func runModuleNoun(args []string) int {
	if len(args) < 1 {
		printModuleNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printModuleNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runModuleList(actionArgs)
	case "journal":
		return runModuleJournal(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown module action: %s\n", action)
		printModuleNounHelp(os.Stderr)
		return 1
	}
}

func printModuleNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bert module <action>")
	fmt.Fprintln(w, "Actions: list, journal")
	fmt.Fprintln(w, "  list     [--config PATH] [--json]")
	fmt.Fprintln(w, "  journal  [--config PATH] [--module NAME] [--limit N] [--json]")
}

// runModuleList loads every configured module, prints its commands and
// tears everything down again.
func runModuleList(args []string) int {
	fs := flag.NewFlagSet("module list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output modules as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := log.New(cfg.Service.LogLevel, "text", os.Stderr)
	h := host.New(registry.New(
		newModuleLoader(cfg, logger.With("component", "loader")),
		registry.WithLogger(logger.With("component", "registry")),
	))
	defer func() { _ = h.Close() }()

	if err := populate(h, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register modules: %v\n", err)
		return 1
	}
	mods := h.Snapshot()

	if *jsonOut {
		data, err := json.MarshalIndent(mods, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render modules JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tORIGIN\tCOMMANDS\tSOURCE")
	for _, m := range mods {
		source := m.Origin.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Origin.Kind, strings.Join(m.CommandNames(), ","), source)
	}
	_ = tw.Flush()
	return 0
}

func runModuleJournal(args []string) int {
	fs := flag.NewFlagSet("module journal", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	moduleName := fs.String("module", "", "Only show events for this module")
	limit := fs.Int("limit", journal.DefaultLimit, "Maximum number of events")
	jsonOut := fs.Bool("json", false, "Output events as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "Journal is disabled (journal.enabled: false)")
		return 1
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer func() { _ = j.Close() }()

	entries, err := j.Recent(ctx, *moduleName, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render journal JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No module events recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODULE\tEVENT\tDIGEST\tERROR")
	for _, e := range entries {
		digest := e.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Local().Format("2006-01-02 15:04:05"), e.Module, e.Kind, digest, e.Error)
	}
	_ = tw.Flush()
	return 0
}
