package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mailgraph/internal/tools"
	"github.com/teemow/mailgraph/internal/tools/mail_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate action and MCP tool documentation",
		Long: `Generate markdown documentation for every action. The output is built from
the action definitions themselves, so it always matches what the server
exposes on /api/tools and as MCP tools.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			markdown := tools.Reference(mail_tools.Actions())
			if outputFile == "" {
				fmt.Fprint(cmd.OutOrStdout(), markdown)
				return nil
			}
			if err := os.WriteFile(outputFile, []byte(markdown), 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Documentation written to: %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}
