// Command voxedit is the voice-dictation editing server and its tooling.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxedit/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "voxedit: %v\n", err)
		return 1
	}
	return 0
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "voxedit",
		Short: "Edit documents by voice",
		Long: `voxedit turns transcribed speech into edits on a structured document.

Subcommands:
  serve    - run the dictation server
  replay   - feed a transcript script through a dictation session
  tokenize - print the tokens of a text in a language context
  validate - check a config file and its definitions`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (defaults apply when empty)")

	root.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newTokenizeCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

// loadConfig loads the config file named by --config, or the defaults.
func (o *options) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", o.configPath)
	}
	return cfg, err
}

// newLogger returns a text logger on w whose level follows lvl.
func newLogger(w io.Writer, lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
