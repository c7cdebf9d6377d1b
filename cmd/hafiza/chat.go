package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/internal/assistant"
)

// chatTurner is the part of the assistant the REPL drives.
type chatTurner interface {
	NewSession(ctx context.Context, userID, title string) (*assistant.Session, error)
	Turn(ctx context.Context, s *assistant.Session, text string) (assistant.TurnResult, error)
}

func chatCmd(g *globalFlags) *cobra.Command {
	var (
		mf      memoryFlags
		convID  int64
		newConv bool
		title   string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: `Starts an interactive conversation. Each line is one turn.

Lines starting with "#forget <id>" or "#update <id>: <text>" edit memories
directly. Type /new to start a new conversation and /quit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			user := mf.userOr(a.UserID())

			var s *assistant.Session
			if newConv {
				s, err = a.Assistant.NewSession(ctx, user, title)
			} else {
				s, err = a.Assistant.OpenSession(ctx, user, convID)
			}
			if err != nil {
				return err
			}
			return repl(ctx, a.Assistant, s, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	mf.bind(cmd)
	cmd.Flags().Int64Var(&convID, "conv", 0, "Resume this conversation (default: most recent)")
	cmd.Flags().BoolVar(&newConv, "new", false, "Start a new conversation")
	cmd.Flags().StringVar(&title, "title", "", "Title of the new conversation")
	cmd.MarkFlagsMutuallyExclusive("conv", "new")
	return cmd
}

// repl reads turns from in until EOF, /quit or cancellation.
func repl(ctx context.Context, t chatTurner, s *assistant.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Conversation #%d: %s\n", s.ConvID, s.Title)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			ns, err := t.NewSession(ctx, s.UserID, "")
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			s = ns
			fmt.Fprintf(out, "Conversation #%d: %s\n", s.ConvID, s.Title)
			continue
		}

		res, err := t.Turn(ctx, s, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, "error:", err)
			continue
		}
		fmt.Fprintln(out, res.Reply)
		for _, sv := range res.Saved {
			fmt.Fprintf(out, "  (memory #%d %s: %s)\n", sv.ID, sv.Outcome, sv.Text)
		}
		if res.SuggestSave && len(res.Saved) == 0 {
			fmt.Fprintln(out, "  (worth remembering? use hafiza remember)")
		}
	}
}
