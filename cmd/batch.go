package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanq16/mydm/internal/utils"
)

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download every entry of a YAML list (- link: URL, referer: URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				return fmt.Errorf("failed to read URL list file: %w", err)
			}
			if len(entries) == 0 {
				return errors.New("no entries found in the batch file")
			}
			return runDownloads(cmd.Context(), entries)
		},
	}
}
