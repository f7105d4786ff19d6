package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"claude-bridge/internal/provider"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models, their max_tokens defaults and aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			catalog, err := provider.NewCatalogFromConfig(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tMAX_TOKENS\tIMAGES")
			for _, info := range catalog.List() {
				maxTokens := "-"
				if info.MaxTokens > 0 {
					maxTokens = fmt.Sprint(info.MaxTokens)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\n", info.ID, maxTokens, info.Vision)
			}

			aliases := make([]string, 0, len(cfg.Aliases))
			for alias := range cfg.Aliases {
				aliases = append(aliases, alias)
			}
			sort.Strings(aliases)
			for _, alias := range aliases {
				fmt.Fprintf(w, "%s\t-> %s\t\n", alias, cfg.Aliases[alias])
			}
			return w.Flush()
		},
	}
}
