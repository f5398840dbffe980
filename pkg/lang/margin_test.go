package lang_test

import (
	"testing"

	"github.com/MrWong99/voxedit/pkg/lang"
)

func TestMargin_IndentAddsLevels(t *testing.T) {
	t.Parallel()
	m := lang.Margin{Size: 4}
	if got, want := m.Indent("    hello", 2), "                hello"; got != want {
		t.Errorf("Indent = %q, want %q", got, want)
	}
	if got, want := m.Indent("hello", 1), "    hello"; got != want {
		t.Errorf("Indent margin-free = %q, want %q", got, want)
	}
	if got := m.Indent("hello", -3); got != "hello" {
		t.Errorf("negative Indent = %q, want unchanged", got)
	}
}

func TestMargin_Levels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		margin lang.Margin
		line   string
		cols   int
		level  int
	}{
		{name: "spaces", margin: lang.Margin{Size: 2}, line: "    x", cols: 4, level: 2},
		{name: "partial level", margin: lang.Margin{Size: 4}, line: "      x", cols: 6, level: 1},
		{name: "tabs", margin: lang.Margin{Tabs: true}, line: "\t\tx", cols: 8, level: 2},
		{name: "mixed", margin: lang.Margin{Size: 4}, line: "\t  x", cols: 6, level: 1},
		{name: "blank", margin: lang.Margin{}, line: "", cols: 0, level: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.margin.Columns(tt.line); got != tt.cols {
				t.Errorf("Columns(%q) = %d, want %d", tt.line, got, tt.cols)
			}
			if got := tt.margin.Level(tt.line); got != tt.level {
				t.Errorf("Level(%q) = %d, want %d", tt.line, got, tt.level)
			}
		})
	}
}

func TestMargin_RenderAndStrip(t *testing.T) {
	t.Parallel()
	if got := (lang.Margin{Tabs: true}).Render(2); got != "\t\t" {
		t.Errorf("tab Render = %q", got)
	}
	if got := (lang.Margin{Size: 3}).Render(2); got != "      " {
		t.Errorf("space Render = %q", got)
	}
	if got := (lang.Margin{}).Unit(); got != "    " {
		t.Errorf("default Unit = %q, want four spaces", got)
	}
	if got := (lang.Margin{}).Strip(" \t  body  "); got != "body  " {
		t.Errorf("Strip = %q", got)
	}
}
