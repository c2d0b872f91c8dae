package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kabili207/inav-msp-go/device/fc"
)

var (
	cmdDump = &cobra.Command{
		Use:   "dump",
		Short: "Download the used dataflash region",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runDump,
	}
)

var dumpOut string

func init() {
	rootCmd.AddCommand(cmdDump)
	cmdDump.Flags().StringVarP(&dumpOut, "out", "o", "-", "Output file, - for stdout")
}

func runDump(cmd *cobra.Command, _ []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		var w io.Writer = cmd.OutOrStdout()
		if dumpOut != "-" {
			f, err := os.Create(dumpOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		fs, err := s.client.OpenFlashData(ctx)
		if err != nil {
			return err
		}
		res, err := fc.Download(ctx, fs, w)
		if err != nil {
			return err
		}
		if dumpOut != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes, blake2b-256 %s\n", dumpOut, res.Bytes, res.DigestHex())
		}
		return nil
	})
}
