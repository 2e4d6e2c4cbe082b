package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	packQuery    string
	packMaxChars int
	packOutput   string
	packLimit    int
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Write the retrieval result as JSON for LLM consumption",
	Long: `Retrieve context for a prompt and write the full result, including the
assembled context, citations and trace, as JSON.

Examples:
  ragkb pack -q "how does authentication work"
  ragkb pack -q "database layer" -c 4000 -o context.json`,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().StringVarP(&packQuery, "query", "q", "", "prompt to answer (required)")
	packCmd.Flags().IntVarP(&packMaxChars, "max-chars", "c", 0, "context character budget (default from config)")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "output file (default: stdout)")
	packCmd.Flags().IntVarP(&packLimit, "limit", "k", 0, "number of chunks to assemble (default from config)")
	packCmd.MarkFlagRequired("query")
}

func runPack(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if packLimit > 0 {
		cfg.Query.Limit = packLimit
	}
	if packMaxChars > 0 {
		cfg.Query.MaxChars = packMaxChars
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	result, err := engine.Query(cmd.Context(), packQuery)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	if packOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}

	if err := os.WriteFile(packOutput, output, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Context packed to: %s\n", packOutput)
	fmt.Fprintf(cmd.OutOrStdout(), "  Evidence: %s\n", result.Evidence)
	fmt.Fprintf(cmd.OutOrStdout(), "  Sources:  %d\n", len(result.Sources))
	fmt.Fprintf(cmd.OutOrStdout(), "  Chars:    %d / %d\n", len([]rune(result.Context)), cfg.Query.MaxChars)
	return nil
}
