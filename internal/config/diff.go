package config

import "github.com/MrWong99/voxedit/pkg/lang"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RevisionMarginChanged bool
	NewRevisionMargin     int

	MarginChanged bool
	NewMargin     lang.Margin

	// DefinitionsChanged reports a different definitions path; the
	// interpreter needs a Reload with the newly loaded definitions.
	DefinitionsChanged bool

	// RestartRequired reports changes to fields that are only read at
	// startup (listen address, TLS, root contexts, service name).
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RevisionMarginChanged || d.MarginChanged || d.DefinitionsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Interpreter.RevisionMargin != new.Interpreter.RevisionMargin {
		d.RevisionMarginChanged = true
		d.NewRevisionMargin = new.Interpreter.RevisionMargin
	}
	if old.Editor.Margin != new.Editor.Margin {
		d.MarginChanged = true
		d.NewMargin = new.Editor.Margin
	}
	if old.Definitions.Path != new.Definitions.Path {
		d.DefinitionsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!sameTLS(old.Server.TLS, new.Server.TLS) ||
		old.Interpreter.RootContext != new.Interpreter.RootContext ||
		old.Editor.DefaultContext != new.Editor.DefaultContext ||
		old.Observability != new.Observability {
		d.RestartRequired = true
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
