// Package mcptools exposes the clustering engine as Model Context
// Protocol tools: a stateless wrapper over one cluster.Runner.Run call
// per invocation, not an owned REPL or event loop.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hurttlocker/wordclass/internal/assign"
	"github.com/hurttlocker/wordclass/internal/cluster"
	"github.com/hurttlocker/wordclass/internal/disjunct"
	"github.com/hurttlocker/wordclass/internal/merge"
	"github.com/hurttlocker/wordclass/internal/rank"
	"github.com/hurttlocker/wordclass/internal/similarity"
	"github.com/hurttlocker/wordclass/internal/vectorstore"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// storeMu serializes every tool call that touches the database.
// mcp-go dispatches handlers concurrently via goroutines; SQLite accepts
// only one writer at a time even under WAL, so calls are serialized here
// exactly as the clustering loop's own writer is serialized internally.
var storeMu sync.Mutex

// ServerConfig configures the MCP server. A fresh rank/similarity/merge/
// assign/cluster chain is assembled per tool call rather than once at
// construction, so each run_clustering_pass call gets its own comparison
// accumulator with nothing left over from a previous call.
type ServerConfig struct {
	Store   vectorstore.Store
	Options cluster.Options
	Version string
}

// NewServer returns a configured MCP server exposing run_clustering_pass
// and list_classes.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	s := server.NewMCPServer(
		"wordclass",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRunClusteringPassTool(s, cfg.Store, cfg.Options)
	registerListClassesTool(s, cfg.Store)
	return s
}

// runResult is the JSON body returned by run_clustering_pass: the report
// plus the per-comparison events the call produced, since similarity.Event
// has no home inside cluster.Report itself.
type runResult struct {
	*cluster.Report
	Comparisons []similarity.Event `json:"comparisons"`
}

func registerRunClusteringPassTool(s *server.MCPServer, store vectorstore.Store, opts cluster.Options) {
	tool := mcp.NewTool("run_clustering_pass",
		mcp.WithDescription("Run one agglomerative clustering pass over the corpus, starting from the given true classes, and return the updated class list."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("existing_true_classes",
			mcp.Description("Comma-separated names of true classes already known from a prior pass"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storeMu.Lock()
		defer storeMu.Unlock()

		var events []similarity.Event
		sink := func(ev similarity.Event) { events = append(events, ev) }

		rankIdx := rank.New(store)
		oracle := similarity.New(store, similarity.WithThreshold(opts.CosineThreshold), similarity.WithSink(sink))
		merger := merge.New(store, opts.MergeFraction)
		controller := assign.New(oracle, merger)
		runner := cluster.New(store, rankIdx, controller, opts, nil)

		existing := splitNonEmpty(stringArg(req, "existing_true_classes"))
		report, err := runner.Run(ctx, existing)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run_clustering_pass error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(runResult{Report: report, Comparisons: events}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerListClassesTool(s *server.MCPServer, store vectorstore.Store) {
	tool := mcp.NewTool("list_classes",
		mcp.WithDescription("List known class entities and their member counts."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storeMu.Lock()
		defer storeMu.Unlock()

		names, err := store.AllEntityNames(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list_classes error: %v", err)), nil
		}

		type classSummary struct {
			Name        string   `json:"name"`
			MemberCount int      `json:"member_count"`
			Bases       []string `json:"bases"`
		}
		summaries := make([]classSummary, 0)
		for _, name := range names {
			ent, err := store.GetEntity(ctx, name)
			if err != nil || ent.Kind != vectorstore.Class {
				continue
			}
			members, err := store.MembersOf(ctx, name)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("list_classes error: %v", err)), nil
			}
			bases, err := formattedBases(ctx, store, name)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("list_classes error: %v", err)), nil
			}
			summaries = append(summaries, classSummary{Name: name, MemberCount: len(members), Bases: bases})
		}

		data, _ := json.MarshalIndent(map[string]any{"classes": summaries, "count": len(summaries)}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// formattedBases returns the display form of every basis a class vector
// carries nonzero mass on, via disjunct.Format, sorted for a stable tool
// result across calls.
func formattedBases(ctx context.Context, store vectorstore.Store, class string) ([]string, error) {
	pairs, err := store.RightStars(ctx, class)
	if err != nil {
		return nil, fmt.Errorf("reading bases for %q: %w", class, err)
	}
	bases := make([]string, 0, len(pairs))
	for _, p := range pairs {
		bases = append(bases, disjunct.Format(p.Basis))
	}
	sort.Strings(bases)
	return bases, nil
}

func stringArg(req mcp.CallToolRequest, name string) string {
	v, err := req.RequireString(name)
	if err != nil {
		return ""
	}
	return v
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
