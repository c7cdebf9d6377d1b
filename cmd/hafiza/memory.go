package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/internal/memory"
)

// memoryFlags are shared by the commands acting on one user's memories.
type memoryFlags struct {
	user string
}

func (f *memoryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "User id (default user_id from the configuration)")
}

func (f *memoryFlags) userOr(def string) string {
	if strings.TrimSpace(f.user) != "" {
		return strings.TrimSpace(f.user)
	}
	return def
}

func rememberCmd(g *globalFlags) *cobra.Command {
	var (
		mf     memoryFlags
		kind   string
		source string
		tags   []string
		convID string
		force  bool
		merge  bool
	)
	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a memory unless a similar one exists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := memory.ParseKind(kind)
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if convID != "" {
				tags = append(tags, memory.ConvTag(convID))
			}
			n := memory.NewMemory{
				UserID: mf.userOr(a.UserID()),
				Kind:   k,
				Text:   strings.Join(args, " "),
				Source: source,
				Tags:   tags,
			}

			var opts *memory.NoveltyOptions
			if !force {
				o := a.Engine.Settings().Novelty()
				if cmd.Flags().Changed("merge") {
					o.MergeIfSimilar = merge
				}
				opts = &o
			}
			id, outcome, err := a.Engine.Remember(cmd.Context(), n, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory #%d %s.\n", id, outcome)
			return nil
		},
	}
	mf.bind(cmd)
	cmd.Flags().StringVarP(&kind, "kind", "k", "note", "preference, profile, fact or note")
	cmd.Flags().StringVar(&source, "source", "cli", "Free-form provenance")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag (repeatable, comma-separated)")
	cmd.Flags().StringVar(&convID, "conv", "", "Scope the memory to a conversation")
	cmd.Flags().BoolVar(&force, "force", false, "Insert even when a similar memory exists")
	cmd.Flags().BoolVar(&merge, "merge", false, "Append to a similar memory instead of skipping")
	return cmd
}

func searchCmd(g *globalFlags) *cobra.Command {
	var (
		mf     memoryFlags
		convID string
		topK   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank memories by similarity and recency",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			user := mf.userOr(a.UserID())
			settings := a.Engine.Settings()

			var hits []memory.Hit
			if convID != "" {
				opts := settings.Scoped(convID)
				if topK > 0 {
					opts.TopKLocal, opts.TopKGlobal = topK, topK
				}
				hits, err = a.Engine.SearchScoped(cmd.Context(), user, query, opts)
			} else {
				opts := settings.Search()
				if topK > 0 {
					opts.TopK = topK
				}
				hits, err = a.Engine.Search(cmd.Context(), user, query, opts)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeHitsJSON(cmd.OutOrStdout(), hits)
			}
			return writeHits(cmd.OutOrStdout(), hits)
		},
	}
	mf.bind(cmd)
	cmd.Flags().StringVar(&convID, "conv", "", "Search this conversation's memories first, then global ones")
	cmd.Flags().IntVarP(&topK, "topk", "k", 0, "Results per pool (default from configuration)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print hits as JSON")
	return cmd
}

func contextCmd(g *globalFlags) *cobra.Command {
	var (
		mf     memoryFlags
		convID string
	)
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Print the memory lines the assistant would see",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			lines, err := a.Engine.RetrieveContext(cmd.Context(), mf.userOr(a.UserID()),
				strings.Join(args, " "), a.Engine.Settings().Context(convID))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(lines) == 0 {
				fmt.Fprintln(out, "(none)")
				return nil
			}
			for _, l := range lines {
				fmt.Fprintln(out, l)
			}
			return nil
		},
	}
	mf.bind(cmd)
	cmd.Flags().StringVar(&convID, "conv", "", "Conversation id")
	return cmd
}

func getCmd(g *globalFlags) *cobra.Command {
	var withEmbedding bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one memory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			m, ok, err := a.Engine.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("memory #%d not found", id)
			}
			if !withEmbedding {
				m.Embedding = nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(m)
		},
	}
	cmd.Flags().BoolVar(&withEmbedding, "embedding", false, "Include the embedding vector")
	return cmd
}

func forgetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, ok, err := a.Engine.Get(cmd.Context(), id); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("memory #%d not found", id)
			}
			if err := a.Engine.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory #%d forgotten.\n", id)
			return nil
		},
	}
}

func updateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <text>",
		Short: "Replace the text of a memory and re-embed it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, ok, err := a.Engine.Get(cmd.Context(), id); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("memory #%d not found", id)
			}
			if err := a.Engine.Rewrite(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory #%d updated.\n", id)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid memory id %q", s)
	}
	return id, nil
}

func writeHits(w io.Writer, hits []memory.Hit) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintln(w, "No memories found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tCOSINE\tSCOPE\tKIND\tCREATED\tTEXT")
	for _, h := range hits {
		fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%s\t%s\t%s\t%s\n",
			h.ID, h.Score, h.Cosine, h.Scope, h.Kind, h.CreatedAt.Format(memory.TimeLayout), h.Text)
	}
	return tw.Flush()
}

func writeHitsJSON(w io.Writer, hits []memory.Hit) error {
	for i := range hits {
		hits[i].Embedding = nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(hits)
}
