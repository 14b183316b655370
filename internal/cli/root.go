// Package cli implements triagectl, the operator command line for triagem.
//
// Settings resolve from flags, then TRIAGEM_* environment variables, then an
// optional YAML config file (default $HOME/.triagem/config.yaml).
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyServer = "server"
	keyToken  = "api-token"
)

// app carries the resolved configuration shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCmd builds the triagectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "triagectl",
		Short: "Operate a triagem clinical triage server",
		Long: `triagectl talks to the triagem review API to inspect the review queue,
validate triages, export records and read statistics.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (TRIAGEM_*)
3. Config file (~/.triagem/config.yaml)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.triagem/config.yaml)")
	pf.String(keyServer, "http://localhost:8080", "triagem server base URL")
	pf.String(keyToken, "", "bearer token for the review API")

	root.AddCommand(
		a.newStatsCmd(),
		a.newListCmd(),
		a.newValidateCmd(),
		a.newExportCmd(),
		a.newSeedCmd(),
	)
	return root
}

func (a *app) initConfig(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	a.v.SetEnvPrefix("TRIAGEM")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	a.v.AddConfigPath(filepath.Join(home, ".triagem"))
	a.v.SetConfigType("yaml")
	a.v.SetConfigName("config")
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) client() *apiClient {
	return newAPIClient(a.v.GetString(keyServer), a.v.GetString(keyToken))
}
