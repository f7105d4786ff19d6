package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"claude-bridge/internal/models"
	providerfactory "claude-bridge/internal/provider/factory"
	"claude-bridge/internal/router"
)

func newTranslateCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Print the Messages API request for a chat completion request",
		Long: `Reads a chat completion request (from --file or stdin) and prints the
Anthropic Messages API request it maps to. No provider call is made and no
API key is needed; remote images are still fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open request file: %w", err)
				}
				defer f.Close()
				in = f
			}

			var req models.ChatCompletionRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			components, err := providerfactory.BuildOffline(cfg, logger)
			if err != nil {
				return err
			}
			rt, err := router.New(components.Catalog, components.Handler)
			if err != nil {
				return err
			}

			out, err := rt.Translate(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request JSON file (default stdin)")
	return cmd
}
