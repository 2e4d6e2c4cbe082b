package cli

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragkb/internal/adapter/fs"
	"ragkb/internal/usecase"
)

var (
	ingestPrune bool
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Ingest files into the knowledge base",
	Long: `Ingest files and directories into the knowledge base snapshot stored in
.rag/ under the root directory. Directories are filtered with the configured
include and exclude globs; unchanged documents are skipped.

Examples:
  ragkb ingest                     # Ingest the root directory
  ragkb ingest docs/ notes.md      # Ingest specific paths
  ragkb ingest docs/ --prune       # Drop documents no longer present`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestPrune, "prune", false, "remove documents missing from this batch")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the ingest summary as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cmd.Flags().Changed("prune") {
		cfg.Ingest.Prune = ingestPrune
	}

	paths := args
	if len(paths) == 0 {
		paths = []string{GetRootDir()}
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	sources, err := walker.Sources(paths)
	if err != nil {
		return fmt.Errorf("failed to collect sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No matching files found.")
		return nil
	}

	bars := newStageBars()
	engine, err := newEngine(usecase.WithProgress(bars.update))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Ingesting %d sources into %s...\n", len(sources), engine.SnapshotPath())
	result, err := engine.Ingest(cmd.Context(), sources)
	bars.finish()
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if ingestJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "\nIngestion complete:\n")
	fmt.Fprintf(out, "  Documents indexed: %d\n", result.DocsIndexed)
	fmt.Fprintf(out, "  Documents skipped: %d (unchanged)\n", result.DocsSkipped)
	fmt.Fprintf(out, "  Documents empty:   %d\n", result.DocsEmpty)
	if result.DocsPruned > 0 {
		fmt.Fprintf(out, "  Documents pruned:  %d\n", result.DocsPruned)
	}
	fmt.Fprintf(out, "  Chunks:            %d\n", result.Chunks)
	if result.Vectors > 0 {
		fmt.Fprintf(out, "  Vectors:           %d\n", result.Vectors)
	}
	fmt.Fprintf(out, "\nKnowledge base stored at: %s\n", result.Location)
	return nil
}

// stageBars draws one progress bar per ingestion stage.
type stageBars struct {
	mu      sync.Mutex
	stage   string
	bar     *progressbar.ProgressBar
	started time.Time
}

func newStageBars() *stageBars {
	return &stageBars{}
}

func (s *stageBars) update(stage string, done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if total <= 0 {
		return
	}
	if s.bar == nil || s.stage != stage {
		if s.bar != nil {
			_ = s.bar.Finish()
		}
		s.stage = stage
		s.started = time.Now()
		s.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(rootCmd.ErrOrStderr()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(stageLabel(stage)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(rootCmd.ErrOrStderr())
			}),
		)
	}

	_ = s.bar.Set(done)

	if done > 0 && done < total {
		elapsed := time.Since(s.started)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			s.bar.Describe(fmt.Sprintf("%s ETA: %s", stageLabel(stage), formatDuration(eta)))
		}
	}
}

func (s *stageBars) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil && !s.bar.IsFinished() {
		_ = s.bar.Finish()
	}
}

func stageLabel(stage string) string {
	switch stage {
	case usecase.StageEmbeddings:
		return "[cyan]Embedding[reset]"
	default:
		return "[cyan]Ingesting[reset]"
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
