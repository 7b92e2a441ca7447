package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gomian/pkg/project"
)

var projectsJSON bool

var projectsCmd = &cobra.Command{
	Use:   "projects <uid>",
	Short: "List a user's projects",
	Long: `List the projects stored under a user in the configured data root,
with their sharing flag, subsampling depth and OTU table size.

Examples:
  gomian projects alice
  gomian projects alice --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProjects,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.Flags().BoolVar(&projectsJSON, "json", false, "Emit JSON")
}

func runProjects(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, closeStore, err := openProjectStore(cmd.Context(), cfg.Data)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open project data", err)
	}
	defer closeStore()

	infos, err := store.ListProjects(cmd.Context(), args[0])
	if err != nil {
		return exitError(exitCodeFor(err), "Cannot list projects", err)
	}
	if err := writeProjects(cmd.OutOrStdout(), infos, projectsJSON); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write projects", err)
	}
	return nil
}

func writeProjects(w io.Writer, infos []*project.Info, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSHARED\tSUBSAMPLED\tTABLE BYTES\tMODIFIED")
	for _, p := range infos {
		modified := "-"
		if !p.TableModified.IsZero() {
			modified = p.TableModified.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%s\n", p.ID, p.Name, p.Shared, p.SubsampledValue, p.TableSize, modified)
	}
	return tw.Flush()
}
