package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

func newPagesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List the configured pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, err := cliLogger(cfg)
			if err != nil {
				return err
			}
			a, err := bootstrap(cfg, logger, nil)
			if err != nil {
				return err
			}
			return listPages(cmd.OutOrStdout(), a.registry)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate page definitions against the configured OpenAPI specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return validatePages(cmd.OutOrStdout(), cfg)
		},
	})
	return cmd
}

func listPages(w io.Writer, registry *definition.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSOURCE\tPAGE SIZE\tVIEWS\tEXPORTS")
	for _, p := range registry.AllPages() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Title, dataSourceLabel(p.DataSource), pageSizeLabel(p), viewsLabel(p.Views), exportsLabel(p.Export))
	}
	return tw.Flush()
}

// validatePages prints every definition error and fails when there is any.
func validatePages(w io.Writer, cfg *config.Config) error {
	index := openapi.NewIndex()
	if err := index.Load(openapi.SourcesFromConfig(cfg)); err != nil {
		return fmt.Errorf("OpenAPI index load failed: %w", err)
	}

	defs, err := definition.LoadAndValidate(cfg.Definitions.Directories, index)
	var verrs definition.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		for _, ve := range verrs {
			fmt.Fprintln(w, ve.Error())
		}
		return fmt.Errorf("%d definition errors", len(verrs))
	case err != nil:
		return err
	}

	pages := 0
	for _, d := range defs {
		pages += len(d.Pages)
	}
	fmt.Fprintf(w, "%d domains, %d pages: ok\n", len(defs), pages)
	return nil
}

func dataSourceLabel(ds model.DataSourceDefinition) string {
	if ds.Handler != "" {
		return "handler:" + ds.Handler
	}
	return ds.ServiceID + "/" + ds.OperationID
}

func pageSizeLabel(p model.PageDefinition) string {
	if !p.IsPaginated() {
		return "-"
	}
	return fmt.Sprint(p.PageSize)
}

func viewsLabel(views []model.ViewMode) string {
	if len(views) == 0 {
		return string(model.ViewTable)
	}
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = string(v)
	}
	return strings.Join(out, ",")
}

func exportsLabel(e model.ExportDefinition) string {
	if len(e.Formats) == 0 {
		return model.ExportCSV
	}
	return strings.Join(e.Formats, ",")
}

// cliLogger keeps maintenance commands quiet unless something goes wrong.
func cliLogger(cfg *config.Config) (*zap.Logger, error) {
	obs := cfg.Observability
	if obs.LogLevel == "" || obs.LogLevel == "info" || obs.LogLevel == "debug" {
		obs.LogLevel = "warn"
	}
	logger, err := observability.NewLogger(obs)
	if err != nil {
		return nil, fmt.Errorf("logger error: %w", err)
	}
	return logger, nil
}
