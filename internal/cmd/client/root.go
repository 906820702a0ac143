package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the flojobs client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "flojobs",
		Short: "flojobs client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client command groups on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(NewServersCommand(baseURL))
	root.AddCommand(NewQueuesCommand(baseURL))
	root.AddCommand(NewJobCommand(baseURL))
	root.AddCommand(NewHealthCommand())
}
