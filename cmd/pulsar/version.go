package main

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/client"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pulsar %s (%s %s/%s)\n", client.Version, goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
		},
	}
}
