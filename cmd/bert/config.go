package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/mattjoyce/bert/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bert config <action>")
	fmt.Fprintln(w, "Actions: check")
	fmt.Fprintln(w, "  check  [--config PATH] [--json]")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	builtins := slices.Sorted(maps.Keys(builtinCatalog()))
	res := doctor.New(cfg, builtins).Validate()

	if *jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, i := range res.Errors {
			fmt.Printf("ERROR   [%s] %s: %s\n", i.Category, i.Field, i.Message)
		}
		for _, i := range res.Warnings {
			fmt.Printf("WARNING [%s] %s: %s\n", i.Category, i.Field, i.Message)
		}
		if res.Valid {
			fmt.Printf("Configuration OK: %s\n", cfg.Path)
		}
	}

	if !res.Valid {
		return 1
	}
	return 0
}
