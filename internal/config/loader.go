package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Definitions
	if cfg.Definitions.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("definitions.reload_interval %s must not be negative", cfg.Definitions.ReloadInterval))
	}
	if cfg.Definitions.Path == "" && cfg.Definitions.ReloadInterval > 0 {
		slog.Debug("definitions.path is empty; embedded definitions are not reloaded")
	}

	// Interpreter
	if cfg.Interpreter.RootContext == "" {
		errs = append(errs, errors.New("interpreter.root_context is required"))
	}
	if cfg.Interpreter.RevisionMargin < 0 {
		errs = append(errs, fmt.Errorf("interpreter.revision_margin %d must not be negative", cfg.Interpreter.RevisionMargin))
	}
	if t := cfg.Interpreter.NearMissThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("interpreter.near_miss_threshold %.2f is out of range [0, 1]", t))
	}

	// Editor
	if cfg.Editor.DefaultContext == "" {
		errs = append(errs, errors.New("editor.default_context is required"))
	}
	if w := cfg.Editor.Margin.Size; w < 1 || w > 16 {
		errs = append(errs, fmt.Errorf("editor.margin.width %d is out of range [1, 16]", w))
	}

	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	return errors.Join(errs...)
}
