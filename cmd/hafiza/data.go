package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func seedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Load memories from a JSON seed file",
		Long: `Load memories from a JSON array. Each entry has text and optionally
user_id, kind, source, tags, expires_at and conv_id. A conv_id adds a
conv:<id> tag. Entries are inserted without the similarity check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Seed(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d memories loaded.\n", n)
			return nil
		},
	}
}

func exportCmd(g *globalFlags) *cobra.Command {
	var (
		output string
		user   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every memory, embeddings included, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := a.Export(cmd.Context(), w, user)
			if err != nil {
				return err
			}
			if w != cmd.OutOrStdout() {
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ %d memories written to %s.\n", n, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default stdout)")
	cmd.Flags().StringVar(&user, "user", "", "Export only this user's memories")
	return cmd
}

func resetCmd(g *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every memory, conversation and message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title("Delete every memory and conversation?").
					Description("The schema is kept. This cannot be undone.").
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil && !errors.Is(err, huh.ErrUserAborted) {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
					return nil
				}
			}

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Reset complete (schema kept, content cleared).")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
