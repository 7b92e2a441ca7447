package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gomian/pkg/analysis"
)

var analysesJSON bool

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "List available analyses",
	Long: `List every analysis variant with its deadline class, output encoding
and request fields.

Examples:
  gomian analyses
  gomian analyses --json`,
	Args: cobra.NoArgs,
	RunE: runAnalyses,
}

func init() {
	rootCmd.AddCommand(analysesCmd)
	analysesCmd.Flags().BoolVar(&analysesJSON, "json", false, "Emit JSON")
}

type analysisRow struct {
	Name     string   `json:"name"`
	Deadline string   `json:"deadline"`
	Encoding string   `json:"encoding"`
	Fields   []string `json:"fields"`
}

func analysisRows(reg *analysis.Registry) []analysisRow {
	variants := reg.Variants()
	rows := make([]analysisRow, 0, len(variants))
	for _, v := range variants {
		fields := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			fields = append(fields, f.Name)
		}
		rows = append(rows, analysisRow{
			Name:     v.Name,
			Deadline: v.Deadline.String(),
			Encoding: v.Encoding.String(),
			Fields:   fields,
		})
	}
	return rows
}

func runAnalyses(cmd *cobra.Command, _ []string) error {
	rows := analysisRows(analysis.Builtin())
	out := cmd.OutOrStdout()

	if analysesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write analyses", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDEADLINE\tENCODING\tFIELDS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Deadline, r.Encoding, strings.Join(r.Fields, ","))
	}
	if err := tw.Flush(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write analyses", err)
	}
	return nil
}
