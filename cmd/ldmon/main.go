// Command ldmon runs monitoring selections over event tables and serves them over HTTP.
//
// Usage:
//
//	ldmon run   -config ldmon.yaml -input events.csv -out ./out
//	ldmon serve -config ldmon.yaml
//	ldmon keys  -config ldmon.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/config"
	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/server"
	"github.com/nicktill/ldmon/pkg/storage"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"run", "run selections over an event table and write results", runCommand},
	{"serve", "start the HTTP API", serveCommand},
	{"keys", "list persisted baseline keys", keysCommand},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name == os.Args[1] {
			if err := c.run(ctx, os.Args[2:]); err != nil {
				log.Fatalf("❌ %s: %v", c.name, err)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ldmon <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-6s %s\n", c.name, c.summary)
	}
}

// env is what every command needs once the config is loaded.
type env struct {
	cfg      *config.Config
	registry *selection.Registry
	store    storage.Storage
	meta     metadata.Provider
	closers  []func() error
}

func (e *env) analyzer() *analysis.Analyzer {
	opts := []analysis.Option{analysis.WithRegistry(e.registry)}
	if e.store != nil {
		opts = append(opts, analysis.WithStorage(e.store))
	}
	if e.meta != nil {
		opts = append(opts, analysis.WithMetadata(e.meta))
	}
	return analysis.New(opts...)
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Printf("⚠️  Close failed: %v", err)
		}
	}
}

func setup(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	reg, err := cfg.LoadRegistry()
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, registry: reg}

	store, err := server.InitializeStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, store.Close)

	meta, closeMeta, err := server.InitializeMetadata(ctx, cfg.Metadata)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}
	e.meta = meta
	e.closers = append(e.closers, closeMeta)

	return e, nil
}

func keysCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	eventType := fs.String("event-type", "", "only keys of this event type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	keys, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	storage.SortKeys(keys)
	for _, k := range keys {
		if *eventType != "" && k.EventType != *eventType {
			continue
		}
		fmt.Println(k)
	}
	return nil
}

func splitList(s string) selection.StringList {
	var out selection.StringList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
