// File: cmd/journal.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/journal"
	"github.com/xkilldash9x/herobine/internal/observability"
)

// newJournalCmd creates the `journal` command group.
func newJournalCmd() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspects step journals",
	}
	journalCmd.AddCommand(newJournalTailCmd())
	return journalCmd
}

func newJournalTailCmd() *cobra.Command {
	var follow bool

	tailCmd := &cobra.Command{
		Use:   "tail <file>",
		Short: "Prints one line per journal entry, following the file as it grows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return tailJournal(cmd.Context(), args[0], follow, cmd.OutOrStdout(), observability.GetLogger())
		},
	}
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", true, "keep waiting for new entries")
	return tailCmd
}

// tailJournal prints every entry of path. With follow it waits for new entries
// until ctx is done; otherwise it stops at the end of the file.
func tailJournal(ctx context.Context, path string, follow bool, out io.Writer, logger *zap.Logger) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail journal: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				logger.Warn("Error reading journal.", zap.Error(line.Err))
				continue
			}
			e, err := journal.ParseLine([]byte(line.Text))
			if err != nil {
				logger.Debug("Skipping journal line.", zap.Error(err))
				continue
			}
			fmt.Fprintln(out, journal.Format(e))
		}
	}
}
