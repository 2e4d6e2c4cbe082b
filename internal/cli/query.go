package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ragkb/internal/domain"
)

var (
	queryText    string
	queryLimit   int
	queryJSON    bool
	queryTrace   bool
	queryNoCRAG  bool
	queryNoGraph bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve context for a prompt",
	Long: `Retrieve the chunks most relevant to a prompt and print the assembled
context block followed by its sources.

Examples:
  ragkb query -q "how do I rotate keys"
  ragkb query -q "error 404 nginx" --limit 3 --trace
  ragkb query -q "billing export" --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "prompt to answer (required)")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "k", 0, "number of chunks to assemble (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full result as JSON")
	queryCmd.Flags().BoolVar(&queryTrace, "trace", false, "print the retrieval trace")
	queryCmd.Flags().BoolVar(&queryNoCRAG, "no-crag", false, "disable corrective retrieval")
	queryCmd.Flags().BoolVar(&queryNoGraph, "no-graph", false, "disable graph expansion")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if queryLimit > 0 {
		cfg.Query.Limit = queryLimit
	}
	if queryNoCRAG {
		cfg.Query.CRAG = false
	}
	if queryNoGraph {
		cfg.Query.GraphExpand = false
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	result, err := engine.Query(cmd.Context(), queryText)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if queryJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	switch result.Evidence {
	case domain.EvidenceEmptyQuery:
		fmt.Fprintln(out, "Empty prompt.")
		return nil
	case domain.EvidenceNoKnowledgeBase:
		fmt.Fprintln(out, "No knowledge base found. Run 'ragkb ingest' first.")
		return nil
	}
	if len(result.Sources) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintln(out, result.Context)
	fmt.Fprintln(out)
	printSources(out, result.Sources)
	if queryTrace {
		fmt.Fprintln(out)
		printTrace(out, &result.Trace)
	}
	return nil
}

func printSources(w io.Writer, sources []domain.SourceRef) {
	fmt.Fprintf(w, "Sources (%d):\n", len(sources))
	for _, s := range sources {
		marker := ""
		if s.Truncated {
			marker = " (truncated)"
		}
		fmt.Fprintf(w, "  [%d] %s @%d  %s  score=%.4f%s\n", s.Rank, s.Source, s.Offset, s.ChunkID, s.Score, marker)
	}
}

func printTrace(w io.Writer, t *domain.Trace) {
	fmt.Fprintln(w, "Trace:")
	fmt.Fprintf(w, "  Techniques: %s\n", strings.Join(t.Techniques, ", "))
	fmt.Fprintf(w, "  Queries:\n")
	for _, q := range t.Queries {
		fmt.Fprintf(w, "    - %s\n", q)
	}
	if t.CorrectivePasses > 0 {
		fmt.Fprintf(w, "  Corrective passes: %d (%s)\n", t.CorrectivePasses, t.CRAGReason)
	}
	fmt.Fprintf(w, "  Elapsed: %s\n", t.Elapsed)
}
