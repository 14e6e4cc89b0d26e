package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinelprime/synckit/glyph"
)

func newBootCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Print the canonical boot sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, step := range glyph.BootSteps() {
				fmt.Fprintf(out, "%d. %-10s %s\n", step.Index, step.Glyph, step.Name)
			}
			return nil
		},
	}
}

func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate GLYPH...",
		Short: "Validate a glyph sequence against the boot grammar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			result := glyph.Validate(args)
			if !result.Valid {
				return fmt.Errorf("invalid sequence: %s", result.Reason)
			}

			interp, err := glyph.Interpret(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "valid: %s\n", glyph.FormatSequence(args))
			fmt.Fprintf(out, "tokens: %s\n", strings.Join(interp.Tokens, " "))
			fmt.Fprintf(out, "route: %s\n", strings.Join(interp.Route, " -> "))
			return nil
		},
	}
}
