// Package main is the entry point for the rehydra CLI: a thin driver over
// the anonymization pipeline for file- and stdin-based workflows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rehydra-ai/rehydra-go/core"
	"github.com/rehydra-ai/rehydra-go/core/piicrypto"
	"github.com/rehydra-ai/rehydra-go/fetch"
	"github.com/rehydra-ai/rehydra-go/session"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "anonymize":
		return runAnonymize(ctx, args[1:])
	case "rehydrate":
		return runRehydrate(ctx, args[1:])
	case "fetch-data":
		return runFetchData(ctx, args[1:])
	case "version", "--version", "-v":
		fmt.Printf("rehydra %s (%s)\n", version, commit)
		return 0
	case "help", "--help", "-h":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `rehydra - on-device PII anonymization

Usage:
  rehydra anonymize  [-in FILE] [-out FILE] [-map FILE] [-session ID -store FILE] [-locale TAG]
  rehydra rehydrate  [-in FILE] [-out FILE] -map FILE [-strict]
  rehydra rehydrate  [-in FILE] [-out FILE] -session ID -store FILE [-strict]
  rehydra fetch-data
  rehydra version

Configuration is read from .rehydra.yaml in the working directory.
"-in -" (the default) reads from stdin.
`)
}

func runAnonymize(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("anonymize", flag.ContinueOnError)
	inPath := fs.String("in", "-", "input file, - for stdin")
	outPath := fs.String("out", "-", "output file, - for stdout")
	mapPath := fs.String("map", "", "write the encrypted PII map to this file")
	sessionID := fs.String("session", "", "session id for cross-call id reuse")
	storePath := fs.String("store", "", "bbolt session store path")
	locale := fs.String("locale", "", "BCP-47 locale hint")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	text, err := readInput(*inPath)
	if err != nil {
		return fail(err)
	}

	cfg, err := core.LoadConfig(".")
	if err != nil {
		return fail(err)
	}
	anonymizer, err := core.New(cfg)
	if err != nil {
		return fail(err)
	}
	defer anonymizer.Close()

	opts := core.Options{Locale: *locale}

	var result *core.Result
	if *sessionID != "" {
		store, cleanup, err := openStore(*storePath)
		if err != nil {
			return fail(err)
		}
		defer cleanup()
		result, err = session.New(*sessionID, anonymizer, store).Anonymize(ctx, text, opts)
		if err != nil {
			return fail(err)
		}
	} else {
		result, err = anonymizer.Anonymize(ctx, text, opts)
		if err != nil {
			return fail(err)
		}
	}

	if err := writeOutput(*outPath, result.AnonymizedText); err != nil {
		return fail(err)
	}
	if *mapPath != "" {
		data, err := json.MarshalIndent(result.PIIMap, "", "  ")
		if err != nil {
			return fail(err)
		}
		if err := os.WriteFile(*mapPath, data, 0o600); err != nil {
			return fail(err)
		}
	}

	fmt.Fprintf(os.Stderr, "anonymized %d entities in %.1fms (leak scan passed: %v)\n",
		result.Stats.TotalEntities, result.Stats.ProcessingTimeMs, result.Stats.LeakScanPassed)
	return 0
}

func runRehydrate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rehydrate", flag.ContinueOnError)
	inPath := fs.String("in", "-", "input file, - for stdin")
	outPath := fs.String("out", "-", "output file, - for stdout")
	mapPath := fs.String("map", "", "encrypted PII map file")
	sessionID := fs.String("session", "", "session id")
	storePath := fs.String("store", "", "bbolt session store path")
	strict := fs.Bool("strict", false, "only reverse canonical tags")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *mapPath == "" && *sessionID == "" {
		fmt.Fprintln(os.Stderr, "rehydrate needs -map or -session/-store")
		return 2
	}

	text, err := readInput(*inPath)
	if err != nil {
		return fail(err)
	}

	cfg, err := core.LoadConfig(".")
	if err != nil {
		return fail(err)
	}
	anonymizer, err := core.New(cfg)
	if err != nil {
		return fail(err)
	}
	defer anonymizer.Close()

	var restored string
	if *sessionID != "" {
		store, cleanup, err := openStore(*storePath)
		if err != nil {
			return fail(err)
		}
		defer cleanup()
		restored, err = session.New(*sessionID, anonymizer, store).Rehydrate(ctx, text, *strict)
		if err != nil {
			return fail(err)
		}
	} else {
		data, err := os.ReadFile(*mapPath)
		if err != nil {
			return fail(err)
		}
		var encrypted piicrypto.EncryptedMap
		if err := json.Unmarshal(data, &encrypted); err != nil {
			return fail(fmt.Errorf("parsing %s: %w", *mapPath, err))
		}
		restored, err = anonymizer.Rehydrate(text, &encrypted, *strict)
		if err != nil {
			return fail(err)
		}
	}

	if err := writeOutput(*outPath, restored); err != nil {
		return fail(err)
	}
	return 0
}

func runFetchData(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fetch-data", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := core.LoadConfig(".")
	if err != nil {
		return fail(err)
	}
	dir := cfg.Semantic.DataDir
	if dir == "" {
		root, err := fetch.CacheRoot(cfg.App)
		if err != nil {
			return fail(err)
		}
		dir = fetch.SemanticDataDir(root)
	}

	files := make(map[string]string, len(core.DefaultDataSources))
	for name, url := range core.DefaultDataSources {
		files[url] = filepath.Join(dir, name)
	}
	if err := fetch.NewClient().EnsureAll(ctx, files); err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "semantic data ready in %s\n", dir)
	return 0
}

func openStore(path string) (session.StorageProvider, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("-session requires -store")
	}
	store, err := session.OpenBolt(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeOutput(path, text string) error {
	if path == "-" {
		_, err := fmt.Print(text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
