package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/caseview/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "caseview",
		Short: "Backend-for-frontend serving configurable case list pages",
		Long: `caseview serves definition-driven list pages: it loads a page's records
once from an upstream search service, then filters, sorts, paginates and
exports them per browser session until the next reload.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newExportCmd(opts),
		newPagesCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}
