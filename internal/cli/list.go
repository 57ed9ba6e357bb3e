package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calvw/flowcheck/internal/workflow"
)

// WorkflowInfo is one entry in the list output.
type WorkflowInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
	Path  string `json:"path"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <workflows-dir>",
		Short: "List workflow definitions",
		Long: `List every workflow definition found in a directory.

Definitions are validated on load; a malformed file fails the whole
listing, matching run behavior.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listWorkflows(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func listWorkflows(opts *RootOptions, workflowsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(workflowsDir); os.IsNotExist(err) {
		return formatter.CommandError("E001", fmt.Sprintf("workflows directory not found: %s", workflowsDir), nil)
	}

	defs, err := workflow.LoadDir(workflowsDir)
	if err != nil {
		return formatter.CommandError("E003", "load workflows", err)
	}

	infos := make([]WorkflowInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, WorkflowInfo{
			ID:    def.ID,
			Name:  def.Name,
			Nodes: len(def.Nodes),
			Path:  def.Path,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(infos)
	}

	w := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(w, "No workflows found.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t(%d nodes)\n", info.ID, info.Name, info.Nodes)
	}
	return nil
}
