package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kabili207/inav-msp-go/core/msp"
)

var (
	cmdModes = &cobra.Command{
		Use:   "modes",
		Short: "List configured mode ranges",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runModes,
	}

	cmdSetMode = &cobra.Command{
		Use:   "set-mode <slot> <box> <aux> <start> <end>",
		Short: "Write one mode range slot",
		Long: `Writes a mode activation range. Steps are in 25us units above 900us,
so step 0 is 900us and step 48 is 2100us. Setting start and end to 0
clears the slot.`,
		Args: cobra.ExactArgs(5),
		RunE: runSetMode,
	}
)

func init() {
	rootCmd.AddCommand(cmdModes)
	rootCmd.AddCommand(cmdSetMode)
}

func runModes(cmd *cobra.Command, _ []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		ranges, err := s.client.GetModeRanges(ctx)
		if err != nil {
			return err
		}
		for _, r := range ranges {
			fmt.Fprintln(cmd.OutOrStdout(), r.String())
		}
		return nil
	})
}

func runSetMode(cmd *cobra.Command, args []string) error {
	var vals [5]uint8
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 8)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		vals[i] = uint8(v)
	}
	if int(vals[0]) >= msp.ModeRangeSlots {
		return fmt.Errorf("slot %d out of range, must be below %d", vals[0], msp.ModeRangeSlots)
	}
	r := msp.ModeRange{
		Index:           vals[0],
		BoxID:           vals[1],
		AuxChannelIndex: vals[2],
		StartStep:       vals[3],
		EndStep:         vals[4],
	}

	return withSession(cmd, func(ctx context.Context, s *session) error {
		if err := s.client.SetModeRange(ctx, r); err != nil {
			return err
		}
		s.log.Info("mode range written", "range", r.String())
		return nil
	})
}
