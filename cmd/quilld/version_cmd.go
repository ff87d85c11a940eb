package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillcms/quilld"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quilld version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "quilld %s\n", quilld.Version)
			return err
		},
	}
}
