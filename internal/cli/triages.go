package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagem/internal/triage"
)

// listPreviewLen caps the symptom preview in the queue listing.
const listPreviewLen = 60

type listResult struct {
	Status  triage.StatusFilter `json:"status"`
	Count   int                 `json:"count"`
	Records []*triage.Record    `json:"records"`
}

func (a *app) newListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triage records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := triage.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			var res listResult
			q := url.Values{"status": {string(filter)}}
			if err := a.client().getJSON(cmd.Context(), http.MethodGet, "/triages", q, nil, &res); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tRISK\tSYMPTOMS")
			for _, r := range res.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ID,
					r.CreatedAt.Local().Format(time.DateTime),
					recordStatus(r),
					riskLabel(triage.ClassifyResponse(r.Response)),
					preview(r.Symptoms, listPreviewLen),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s)\n", res.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(triage.StatusPending), "filter: pending, validated or all")
	return cmd
}

func (a *app) newValidateCmd() *cobra.Command {
	var reviewer, feedback string
	cmd := &cobra.Command{
		Use:   "validate <triage-id>",
		Short: "Validate a pending triage and add it to the case base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"reviewer": reviewer, "feedback": feedback}
			var res triage.ValidationResult
			path := "/triages/" + url.PathEscape(args[0]) + "/validate"
			if err := a.client().getJSON(cmd.Context(), http.MethodPost, path, nil, body, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "validated %s (risk: %s)\n", args[0], riskLabel(res.Color))
			if res.Linked {
				fmt.Fprintf(out, "case base entry: %s\n", res.CaseID)
			} else {
				fmt.Fprintf(out, "warning: case base append failed: %s\n", res.LinkError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name (ignored when the server authenticates via OIDC)")
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback")
	return cmd
}

func recordStatus(r *triage.Record) string {
	if r.Validated {
		return "validated"
	}
	return "pending"
}

func riskLabel(c triage.Color) string {
	if l := c.Label(); l != "" {
		return l
	}
	return "-"
}

// preview flattens whitespace and truncates s to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
