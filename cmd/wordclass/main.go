package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/wordclass/internal/assign"
	"github.com/hurttlocker/wordclass/internal/cluster"
	"github.com/hurttlocker/wordclass/internal/config"
	"github.com/hurttlocker/wordclass/internal/mcptools"
	"github.com/hurttlocker/wordclass/internal/merge"
	"github.com/hurttlocker/wordclass/internal/rank"
	"github.com/hurttlocker/wordclass/internal/similarity"
	"github.com/hurttlocker/wordclass/internal/vectorstore"
	"github.com/mark3labs/mcp-go/server"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		if err := runPass(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("wordclass %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// resolveStoreAndOptions opens a vectorstore.Store at dbPath and resolves
// cluster.Options from configPath, printing each tunable's provenance.
// Callers must Close the returned store.
func resolveStoreAndOptions(dbPath, configPath string) (vectorstore.Store, cluster.Options, error) {
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	resolved, err := config.ResolveOptions(configPath, config.Overrides{})
	if err != nil {
		return nil, cluster.Options{}, fmt.Errorf("resolving config: %w", err)
	}
	printProvenance(resolved)

	store, err := vectorstore.Open(vectorstore.Config{DBPath: dbPath})
	if err != nil {
		return nil, cluster.Options{}, fmt.Errorf("opening store: %w", err)
	}

	opts := cluster.Options{
		CosineThreshold:  resolved.CosineThreshold.Value,
		MergeFraction:    resolved.MergeFraction.Value,
		MinObservations:  resolved.MinObservations.Value,
		InitialChunkSize: int(resolved.InitialChunkSize.Value),
		SkipFraction:     resolved.SkipFraction.Value,
		SkipAheadMode:    cluster.SkipAheadSquared,
	}
	return store, opts, nil
}

// buildRunner assembles a ready cluster.Runner on top of store/opts,
// wiring blockSink and simSink into its similarity oracle and loop.
func buildRunner(store vectorstore.Store, opts cluster.Options, blockSink cluster.BlockSink, simSink similarity.Sink) *cluster.Runner {
	rankIdx := rank.New(store)
	oracle := similarity.New(store, similarity.WithThreshold(opts.CosineThreshold), similarity.WithSink(simSink))
	merger := merge.New(store, opts.MergeFraction)
	controller := assign.New(oracle, merger)
	return cluster.New(store, rankIdx, controller, opts, blockSink)
}

func runPass(args []string) error {
	var dbPath, configPath string
	var existingTrueClasses []string

	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--db="):
			dbPath = strings.TrimPrefix(arg, "--db=")
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--existing="):
			existingTrueClasses = splitNonEmpty(strings.TrimPrefix(arg, "--existing="))
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	simSink := func(ev similarity.Event) {
		fmt.Printf("  compare %s(%s) vs %s(%s): cosine=%.4f\n", ev.EntityA, ev.KindA, ev.EntityB, ev.KindB, ev.Cosine)
	}
	blockSink := func(ev cluster.BlockEvent) {
		fmt.Printf("block %d: size=%d remaining=%d true_classes=%d provisionals=%d\n",
			ev.BlockIndex, ev.BlockSize, ev.Remaining, ev.TrueClasses, ev.Provisionals)
	}

	store, opts, err := resolveStoreAndOptions(dbPath, configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	runner := buildRunner(store, opts, blockSink, simSink)

	ctx := context.Background()
	report, err := runner.Run(ctx, existingTrueClasses)
	if err != nil {
		return fmt.Errorf("running clustering pass: %w", err)
	}

	fmt.Println()
	fmt.Printf("scanned %d entities, %d true classes, %d provisional singletons\n",
		report.Scanned, len(report.TrueClasses), len(report.Provisionals))
	for _, c := range report.TrueClasses {
		fmt.Printf("  class %s\n", c)
	}
	return nil
}

// runServe starts the MCP tool server over stdio, exposing the clustering
// engine to MCP clients as run_clustering_pass and list_classes.
func runServe(args []string) error {
	var dbPath, configPath string
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--db="):
			dbPath = strings.TrimPrefix(arg, "--db=")
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	// A running tool server has no terminal to print progress to; mcptools
	// assembles its own per-call chain and accumulates comparisons into the
	// tool result instead of printing through a sink here.
	store, opts, err := resolveStoreAndOptions(dbPath, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	s := mcptools.NewServer(mcptools.ServerConfig{Store: store, Options: opts, Version: version})
	return server.ServeStdio(s)
}

func printProvenance(opts config.Options) {
	fmt.Printf("cosine_threshold=%v (%s)\n", opts.CosineThreshold.Value, opts.CosineThreshold.Source)
	fmt.Printf("merge_fraction=%v (%s)\n", opts.MergeFraction.Value, opts.MergeFraction.Source)
	fmt.Printf("min_observations=%v (%s)\n", opts.MinObservations.Value, opts.MinObservations.Source)
	fmt.Printf("initial_chunk_size=%v (%s)\n", opts.InitialChunkSize.Value, opts.InitialChunkSize.Source)
	fmt.Printf("skip_fraction=%v (%s)\n", opts.SkipFraction.Value, opts.SkipFraction.Source)
}

func splitNonEmpty(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("wordclass - agglomerative clustering over sparse observation vectors")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  wordclass run [--db=path] [--config=path] [--existing=class1,class2]")
	fmt.Println("  wordclass serve [--db=path] [--config=path]")
	fmt.Println("  wordclass version")
	fmt.Println("  wordclass help")
}
