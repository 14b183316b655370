package cli

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagem/internal/triage"
)

func (a *app) newExportCmd() *cobra.Command {
	var status, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download triage records as CSV",
		Long: `Download triage records as CSV. With no --out the file is written to the
current directory under the server-suggested name; use --out - for stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := triage.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			resp, err := a.client().do(cmd.Context(), http.MethodGet, "/export.csv", url.Values{"status": {string(filter)}}, nil)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if out == "-" {
				_, err := io.Copy(cmd.OutOrStdout(), resp.Body)
				return err
			}
			if out == "" {
				out = attachmentName(resp.Header.Get("Content-Disposition"))
			}

			f, err := os.Create(out) //nolint:gosec // operator-chosen path
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if _, err := io.Copy(f, resp.Body); err != nil {
				_ = f.Close()
				return fmt.Errorf("write %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s records to %s\n", headerOr(resp.Header.Get("X-Record-Count"), "?"), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(triage.StatusAll), "filter: pending, validated or all")
	cmd.Flags().StringVarP(&out, "out", "O", "", "output path, - for stdout")
	return cmd
}

func attachmentName(disposition string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return filepath.Base(params["filename"])
	}
	return "triages.csv"
}

func headerOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
