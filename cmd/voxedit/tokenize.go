package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxedit/pkg/lang"
)

func newTokenizeCmd(opts *options) *cobra.Command {
	var (
		contexts   []string
		whitespace bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "tokenize <text>...",
		Short: "Print the tokens of a text in a language context",
		Long: `Print the tokens of a text. The arguments are joined with spaces. The
context stack defaults to the interpreter's root context; repeat --context to
start with a deeper stack (outermost first).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defs, err := cfg.LoadDefinitions()
			if err != nil {
				return err
			}
			if len(contexts) == 0 {
				contexts = []string{cfg.Interpreter.RootContext}
			}
			res, err := defs.Language.Tokenize(strings.Join(args, " "), contexts, lang.Position{}, whitespace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Tokens []lang.Token `json:"tokens"`
					Stack  []string     `json:"stack"`
				}{res.Tokens, res.Stack})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POS\tTYPE\tCONTEXT\tTEXT")
			for _, t := range res.Tokens {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%q\n", t.Position, t.Type, t.Context, t.Text)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "stack: %s\n", strings.Join(res.Stack, " > "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&contexts, "context", nil, "initial context stack, outermost first")
	cmd.Flags().BoolVar(&whitespace, "whitespace", false, "include whitespace and newline tokens")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
