package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kabili207/inav-msp-go/transport/serial"
)

var (
	cmdPorts = &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runPorts,
	}
)

func init() {
	rootCmd.AddCommand(cmdPorts)
}

func runPorts(cmd *cobra.Command, _ []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
