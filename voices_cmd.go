package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dgnsrekt/readaloud/internal/synth"
	"github.com/spf13/cobra"
)

var (
	voicesLocale string
	voicesFilter string

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the available voices",
		Long:    paragraph(fmt.Sprintf("\nList the voices the synthesis endpoint offers. Narrow the list down with %s or %s.", keyword("--locale"), keyword("--filter"))),
		Example: paragraph("readaloud voices --locale en-GB\nreadaloud voices --filter sonia"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			client := synth.NewEdgeClient(synth.EdgeConfig{})
			voices, err := client.Voices(ctx)
			if err != nil {
				return fmt.Errorf("unable to fetch voices: %w", err)
			}

			if voicesLocale != "" {
				voices = synth.FilterLocale(voices, voicesLocale)
			}
			if voicesFilter != "" {
				voices = synth.FilterName(voices, voicesFilter)
			}
			if len(voices) == 0 {
				return errors.New("no voices match")
			}
			synth.SortByLocale(voices)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, v := range voices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", v.ShortName, v.Locale, v.Gender)
			}
			return w.Flush()
		},
	}
)

func init() {
	voicesCmd.Flags().StringVar(&voicesLocale, "locale", "", "only list voices for a locale or language")
	voicesCmd.Flags().StringVar(&voicesFilter, "filter", "", "fuzzy match against the voice names")
}
