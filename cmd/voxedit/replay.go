package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxedit/internal/app"
	"github.com/MrWong99/voxedit/internal/dictation"
	"github.com/MrWong99/voxedit/internal/speech"
)

// step is one line of a replay script.
type step struct {
	line       int
	undo       bool
	transcript dictation.Transcript
}

// parseScript reads a replay script. Each non-blank line is one of
//
//	partial: <text>
//	final: <text>
//	undo
//
// Lines starting with '#' are comments.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "undo" {
			steps = append(steps, step{line: n, undo: true})
			continue
		}
		kind, text, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"partial:\", \"final:\" or \"undo\"", n)
		}
		t := dictation.Transcript{Text: strings.TrimSpace(text)}
		switch strings.TrimSpace(kind) {
		case "partial":
		case "final":
			t.IsFinal = true
		default:
			return nil, fmt.Errorf("line %d: unknown step %q", n, kind)
		}
		steps = append(steps, step{line: n, transcript: t})
	}
	return steps, sc.Err()
}

func newReplayCmd(opts *options) *cobra.Command {
	var (
		initial string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Feed a transcript script through a dictation session",
		Long: `Feed a transcript script through a dictation session and print the
resulting document. The script holds one step per line: "partial: <text>",
"final: <text>" or "undo". Use "-" to read the script from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			steps, err := parseScript(r)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			return replay(cmdContext(cmd), opts, steps, initial, verbose, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&initial, "text", "", "initial document text")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the document after every step")
	return cmd
}

func replay(ctx context.Context, opts *options, steps []step, initial string, verbose bool, out io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	cfg.Definitions.ReloadInterval = 0
	cfg.Editor.InitialText = initial

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.WithoutCancel(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := a.Session()
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	for _, s := range steps {
		var (
			u   dictation.Update
			err error
		)
		if s.undo {
			u, err = sess.Undo(ctx)
		} else {
			u, err = sess.Submit(ctx, s.transcript)
		}
		switch {
		case errors.Is(err, dictation.ErrClosed), ctx.Err() != nil:
			return fmt.Errorf("replay: line %d: %w", s.line, err)
		case errors.Is(err, speech.ErrNothingToUndo):
			fmt.Fprintf(out, "line %d: nothing to undo\n", s.line)
		case err != nil:
			fmt.Fprintf(out, "line %d: %v\n", s.line, err)
		}
		if verbose && err == nil {
			fmt.Fprintf(out, "line %d: %s -> %q\n", s.line, u.Action, u.Document.Text)
		}
	}

	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, snap.Text)

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// cmdContext returns the command's context, or Background when it was
// executed without one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
