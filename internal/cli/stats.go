package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Describe the knowledge base snapshot",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	stats, ok := engine.Stats()
	if !ok {
		fmt.Fprintf(out, "No knowledge base at %s. Run 'ragkb ingest' first.\n", engine.SnapshotPath())
		return nil
	}

	if statsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Knowledge base: %s (v%s)\n", stats.Location, stats.Version)
	fmt.Fprintf(out, "  Documents:   %d\n", stats.Documents)
	fmt.Fprintf(out, "  Chunks:      %d (%d summaries)\n", stats.Chunks, stats.Summaries)
	fmt.Fprintf(out, "  Terms:       %d\n", stats.Terms)
	fmt.Fprintf(out, "  Avg length:  %.2f\n", stats.AvgDL)
	fmt.Fprintf(out, "  Graph terms: %d\n", stats.GraphTerms)
	fmt.Fprintf(out, "  Saves:       %d\n", stats.Saves)
	if stats.LastWrite != nil {
		fmt.Fprintf(out, "  Last write:  %s\n", stats.LastWrite.Local().Format(time.RFC3339))
	}
	if d := stats.Dense; d != nil {
		fmt.Fprintf(out, "  Dense:       %s/%s dim=%d backend=%s vectors=%d\n", d.Provider, d.Model, d.Dim, d.Backend, d.Vectors)
	}
	return nil
}
