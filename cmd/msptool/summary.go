package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cmdSummary = &cobra.Command{
		Use:   "summary",
		Short: "Show the dataflash summary",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runSummary,
	}
)

func init() {
	rootCmd.AddCommand(cmdSummary)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		summary, err := s.client.FlashSummary(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "supported: %t\n", summary.Supported)
		fmt.Fprintf(out, "ready:     %t\n", summary.Ready)
		fmt.Fprintf(out, "sectors:   %d\n", summary.Sectors)
		fmt.Fprintf(out, "total:     %d bytes\n", summary.TotalSizeBytes)
		fmt.Fprintf(out, "used:      %d bytes\n", summary.UsedSizeBytes)
		return nil
	})
}
