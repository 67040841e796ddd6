package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codeassist/internal/index"
	"codeassist/internal/rag"
	"codeassist/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const maxSearchResults = 50

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the persisted index to MCP clients over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	retriever, err := a.retriever()
	if err != nil {
		return err
	}

	s := mcpserver.NewMCPServer("codeassist", "1.0.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(searchCodebaseTool(), makeSearchHandler(retriever))
	s.AddTool(getCodeUnitTool(), makeGetUnitHandler(a.collection))
	s.AddTool(indexStatusTool(), makeStatusHandler(a.collection, a.embedder.Model()))

	return mcpserver.ServeStdio(s)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodebaseTool() mcp.Tool {
	return mcp.NewTool("search_codebase",
		mcp.WithDescription("Semantically search the indexed codebase for the functions and methods most relevant to a query. Returns each unit's identifier (file_class_method) and source."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language description of the code you're looking for"),
		),
		mcp.WithNumber("k",
			mcp.Description(fmt.Sprintf("Maximum number of units to return (default %d)", rag.TopK)),
		),
	)
}

func getCodeUnitTool() mcp.Tool {
	return mcp.NewTool("get_code_unit",
		mcp.WithDescription("Fetch one indexed function or method by its identifier, with its file path and line range."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Unit identifier as returned by search_codebase, e.g. math_utils.py_Calculator_multiply"),
		),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report how many code units are indexed and which embedding model built the index."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

type searcher interface {
	RetrieveK(ctx context.Context, query string, k int) ([]rag.Result, error)
}

type unitGetter interface {
	Get(ctx context.Context, id string) (store.Match, error)
}

type statusReader interface {
	Count(ctx context.Context) (int, error)
	GetMeta(ctx context.Context, key string) (string, error)
}

func makeSearchHandler(s searcher) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.TrimSpace(req.GetString("query", ""))
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", rag.TopK)
		if k <= 0 {
			k = rag.TopK
		}
		k = min(k, maxSearchResults)

		results, err := s.RetrieveK(ctx, query, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(query, results)), nil
	}
}

func makeGetUnitHandler(g unitGetter) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := strings.TrimSpace(req.GetString("id", ""))
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		m, err := g.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("unit %q not found in index, call search_codebase to find identifiers", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## %s\n\n", m.ID)
		if p := m.Metadata["path"]; p != "" {
			fmt.Fprintf(&sb, "**File:** %s  \n", p)
		}
		if c := m.Metadata["class"]; c != "" {
			fmt.Fprintf(&sb, "**Class:** %s  \n", c)
		}
		if m.Metadata["start_line"] != "" {
			fmt.Fprintf(&sb, "**Lines:** %s-%s\n", m.Metadata["start_line"], m.Metadata["end_line"])
		}
		fmt.Fprintf(&sb, "\n```\n%s\n```\n", m.Document)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeStatusHandler(st statusReader, model string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := st.Count(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("count failed: %v", err)), nil
		}
		built, err := st.GetMeta(ctx, index.MetaModelKey)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read meta failed: %v", err)), nil
		}

		if n == 0 {
			return mcp.NewToolResultText("The index is empty. Run 'codeassist DIR' to build it."), nil
		}
		text := fmt.Sprintf("%d code units indexed with embedding model %s.", n, built)
		if built != "" && built != model {
			text += fmt.Sprintf(" The configured model is %s, so searches will not match until the index is rebuilt.", model)
		}
		return mcp.NewToolResultText(text), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, results []rag.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d units)\n\n", query, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, r.ID)
		fmt.Fprintf(&sb, "```\n%s\n```\n\n", r.Body)
	}
	return sb.String()
}
