package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrpsync/vrpsync/internal/catalog"
)

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest RELEASE...",
		Short: "Print the content identifier of release names",
		Long: `Print the identifier the download server uses for each release name. The
identifier is the MD5 of the name followed by a newline.`,
		Example: `  vrpsync digest "Beat Saber v1.0+1.0 -VRP"`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    digestRun,
	}
}

func digestRun(cmd *cobra.Command, args []string) error {
	for _, name := range args {
		fmt.Printf("%s  %s\n", catalog.Digest(name), name)
	}
	return nil
}
