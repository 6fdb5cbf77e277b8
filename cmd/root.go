package cmd

import (
	"github.com/spf13/cobra"
)

// Execute runs the moradad command tree.
func Execute() error {
	root := &cobra.Command{
		Use:   "moradad",
		Short: "Property search assistant service",
	}
	root.AddCommand(serveCMD())
	return root.Execute()
}
