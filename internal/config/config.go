// Package config provides the configuration schema and loader for the
// voxedit server, together with the definitions file (language contexts and
// command grammar) that drives the interpreter.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxedit/pkg/lang"
)

// LogLevel controls log verbosity for the voxedit server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxedit.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Interpreter   InterpreterConfig   `yaml:"interpreter"`
	Editor        EditorConfig        `yaml:"editor"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network and logging settings for the voxedit server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8088").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DefinitionsConfig locates the definitions file.
type DefinitionsConfig struct {
	// Path is the definitions YAML file. Empty selects the embedded
	// defaults (see [DefaultDefinitions]).
	Path string `yaml:"path"`

	// ReloadInterval is the polling interval of the definitions watcher.
	// Zero disables reloading. Ignored without Path.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// InterpreterConfig tunes the speech interpreter.
type InterpreterConfig struct {
	// RootContext is the context utterances are tokenized in.
	RootContext string `yaml:"root_context"`

	// RevisionMargin is the number of extra resume points a revision steps
	// back beyond the shared token prefix.
	RevisionMargin int `yaml:"revision_margin"`

	// NearMissThreshold is the Jaro-Winkler score at which a literally
	// inserted word is reported as sounding like a command. 0 disables it.
	NearMissThreshold float64 `yaml:"near_miss_threshold"`
}

// EditorConfig configures the in-memory document the server edits.
type EditorConfig struct {
	// Margin is the indentation policy.
	Margin lang.Margin `yaml:"margin"`

	// DefaultContext is the root context of the document.
	DefaultContext string `yaml:"default_context"`

	// InitialText seeds the document.
	InitialText string `yaml:"initial_text"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of utterance traces recorded, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8088",
			LogLevel:   LogInfo,
		},
		Definitions: DefinitionsConfig{
			ReloadInterval: 5 * time.Second,
		},
		Interpreter: InterpreterConfig{
			RootContext:       "speech",
			RevisionMargin:    3,
			NearMissThreshold: 0.85,
		},
		Editor: EditorConfig{
			Margin:         lang.Margin{Size: 4},
			DefaultContext: "text",
		},
		Observability: ObservabilityConfig{
			ServiceName:      "voxedit",
			TraceSampleRatio: 1,
		},
	}
}
