package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/serp"
)

func newParseCmd(opts *options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "parse --file <page.html|response.json|->",
		Short: "Extracts organic results from a saved result page or scraping API response.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			extraction, err := serp.Parse(payload)
			if err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return render(cmd.OutOrStdout(), newReport(extraction, opts.domain), opts.asJSON)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload to parse; - reads stdin.")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
