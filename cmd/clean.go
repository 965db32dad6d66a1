package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanq16/mydm/internal/output"
	"github.com/tanq16/mydm/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [JOB_ID]",
		Short: "Remove leftover part files (all, or those of one job)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := utils.RemoveJobParts(cfg.TempDir, args[0]); err != nil {
					return fmt.Errorf("error cleaning part files of %s: %w", args[0], err)
				}
				output.PrintSuccess(fmt.Sprintf("Part files of %s cleaned up", args[0]))
				return nil
			}
			if err := utils.CleanTempDir(cfg.TempDir); err != nil {
				return fmt.Errorf("error cleaning %s: %w", cfg.TempDir, err)
			}
			output.PrintSuccess("Temporary files cleaned up")
			return nil
		},
	}
}
