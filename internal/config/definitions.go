package config

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxedit/internal/speech"
	"github.com/MrWong99/voxedit/pkg/lang"
)

//go:embed defaults/definitions.yaml
var defaultDefinitions []byte

// DefinitionsFile is the YAML schema of a definitions file.
type DefinitionsFile struct {
	Contexts []lang.ContextDef `yaml:"contexts"`
	Grammar  speech.GrammarDef `yaml:"grammar"`
}

// Definitions is a compiled, validated definitions file.
type Definitions struct {
	Language *lang.Language
	Grammar  *speech.Grammar

	// Source is the file path, or "embedded".
	Source string
	// Hash is the SHA-256 of the raw file.
	Hash [sha256.Size]byte
}

// DefaultDefinitions compiles the embedded default definitions.
func DefaultDefinitions() (*Definitions, error) {
	d, err := ParseDefinitions(defaultDefinitions)
	if err != nil {
		return nil, fmt.Errorf("config: embedded definitions: %w", err)
	}
	d.Source = "embedded"
	return d, nil
}

// DefaultDefinitionsYAML returns the raw embedded definitions file.
func DefaultDefinitionsYAML() []byte { return slices.Clone(defaultDefinitions) }

// LoadDefinitions reads and compiles the definitions file at path. An empty
// path selects [DefaultDefinitions].
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return DefaultDefinitions()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open definitions %q: %w", path, err)
	}
	d, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("config: definitions %q: %w", path, err)
	}
	d.Source = path
	return d, nil
}

// ParseDefinitions decodes and compiles a definitions file. Unknown keys are
// rejected. All problems of the contexts and the grammar are reported
// together.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var f DefinitionsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode definitions: %w", err)
	}
	d, err := CompileDefinitions(f)
	if err != nil {
		return nil, err
	}
	d.Hash = sha256.Sum256(data)
	return d, nil
}

// CompileDefinitions compiles f. Beyond the checks of [lang.Compile] and
// [speech.CompileGrammar], every context a grammar group names must exist.
func CompileDefinitions(f DefinitionsFile) (*Definitions, error) {
	var errs []error
	l, err := lang.Compile(f.Contexts)
	if err != nil {
		errs = append(errs, err)
	}
	g, err := speech.CompileGrammar(f.Grammar)
	if err != nil {
		errs = append(errs, err)
	}
	if l != nil {
		for gi, grp := range f.Grammar.Groups {
			for _, name := range grp.Contexts {
				if name == "*" {
					continue
				}
				if _, ok := l.Context(name); !ok {
					errs = append(errs, fmt.Errorf("config: grammar.groups[%d]: context %q is not defined: %w", gi, name, lang.ErrConfiguration))
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Definitions{Language: l, Grammar: g}, nil
}

// Require reports an error for every named context the definitions lack.
func (d *Definitions) Require(contexts ...string) error {
	var errs []error
	for _, name := range contexts {
		if _, ok := d.Language.Context(name); !ok {
			errs = append(errs, fmt.Errorf("config: context %q is not defined in %s: %w", name, d.Source, lang.ErrConfiguration))
		}
	}
	return errors.Join(errs...)
}

// LoadDefinitions loads the definitions cfg points at and checks that they
// define the interpreter's root context and the editor's default context.
func (cfg *Config) LoadDefinitions() (*Definitions, error) {
	d, err := LoadDefinitions(cfg.Definitions.Path)
	if err != nil {
		return nil, err
	}
	if err := d.Require(cfg.Interpreter.RootContext, cfg.Editor.DefaultContext); err != nil {
		return nil, err
	}
	return d, nil
}
