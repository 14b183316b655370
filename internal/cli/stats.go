package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/triagem/internal/casebase"
	"github.com/linnemanlabs/triagem/internal/triage"
)

type statsReport struct {
	Triages  triage.Stats   `json:"triages" yaml:"triages"`
	CaseBase casebase.Stats `json:"case_base" yaml:"case_base"`
}

func (a *app) newStatsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show review workflow and case base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client()
			var rep statsReport
			if err := c.getJSON(cmd.Context(), http.MethodGet, "/stats", nil, nil, &rep.Triages); err != nil {
				return err
			}
			if err := c.getJSON(cmd.Context(), http.MethodGet, "/casebase/stats", nil, nil, &rep.CaseBase); err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), output, rep)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func writeReport(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}
