package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagem/internal/casebase"
	"github.com/linnemanlabs/triagem/internal/casebase/tsstore"
	"github.com/linnemanlabs/triagem/internal/embedding"
)

// seed flags share names with the server so one config file serves both.
const (
	keySeedFile            = "seed-file"
	keyTypesenseURL        = "typesense-url"
	keyTypesenseAPIKey     = "typesense-api-key"
	keyTypesenseCollection = "typesense-collection"
	keyEmbeddingBaseURL    = "embedding-base-url"
	keyEmbeddingAPIKey     = "embedding-api-key"
	keyEmbeddingModel      = "embedding-model"
	keyEmbeddingDimensions = "embedding-dimensions"
)

func (a *app) newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference cases into a Typesense case base",
		Long: `Embed every line of the seed file and upsert it into the Typesense case
base as case_<n>. Cases already present are skipped, so the command is safe
to re-run. This talks to Typesense and the embeddings endpoint directly and
does not need a running triagem server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			v := a.v

			if v.GetString(keyTypesenseURL) == "" {
				return errors.New("--typesense-url is required")
			}
			cases, err := casebase.ReadSeedFile(v.GetString(keySeedFile))
			if err != nil {
				return err
			}

			emb, err := embedding.New(embedding.Config{
				BaseURL:    v.GetString(keyEmbeddingBaseURL),
				APIKey:     v.GetString(keyEmbeddingAPIKey),
				Model:      v.GetString(keyEmbeddingModel),
				Dimensions: v.GetInt(keyEmbeddingDimensions),
			})
			if err != nil {
				return fmt.Errorf("embedding client: %w", err)
			}

			store := tsstore.New(
				tsstore.NewClient(v.GetString(keyTypesenseURL), v.GetString(keyTypesenseAPIKey)),
				v.GetString(keyTypesenseCollection),
			)
			if err := store.Ping(ctx); err != nil {
				return err
			}

			dim := v.GetInt(keyEmbeddingDimensions)
			if dim == 0 {
				vec, err := emb.Embed(ctx, "dimension probe")
				if err != nil {
					return fmt.Errorf("probe embedding dimension: %w", err)
				}
				dim = len(vec)
			}
			if err := store.EnsureCollection(ctx, dim); err != nil {
				return err
			}

			added, err := casebase.LoadSeeds(ctx, store, emb, cases)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d new case(s), %d already present\n", added, len(cases)-added)
			return nil
		},
	}

	f := cmd.Flags()
	f.String(keySeedFile, "casos.txt", "reference cases file, one case per line")
	f.String(keyTypesenseURL, "", "Typesense server URL")
	f.String(keyTypesenseAPIKey, "", "Typesense API key")
	f.String(keyTypesenseCollection, "triage_cases", "Typesense collection holding case vectors")
	f.String(keyEmbeddingBaseURL, "", "OpenAI-compatible embeddings base URL (empty = api.openai.com)")
	f.String(keyEmbeddingAPIKey, "", "API key for the embeddings endpoint")
	f.String(keyEmbeddingModel, "text-embedding-3-small", "embedding model name")
	f.Int(keyEmbeddingDimensions, 0, "embedding dimensions (0 = model default)")
	return cmd
}
