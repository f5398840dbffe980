package lang

import "strings"

const defaultMarginSize = 4

// Margin is the indentation policy of a document: either one tab per level
// or Size spaces per level.
type Margin struct {
	Tabs bool `yaml:"tabs"`
	Size int  `yaml:"width"`
}

func (m Margin) size() int {
	if m.Size <= 0 {
		return defaultMarginSize
	}
	return m.Size
}

// Unit returns the text of one indentation level.
func (m Margin) Unit() string {
	if m.Tabs {
		return "\t"
	}
	return strings.Repeat(" ", m.size())
}

// Columns returns the visual width of line's leading whitespace. A tab
// counts as one full level.
func (m Margin) Columns(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += m.size()
		default:
			return n
		}
	}
	return n
}

// Level returns the indentation level of line, rounded down.
func (m Margin) Level(line string) int {
	return m.Columns(line) / m.size()
}

// Render returns the leading whitespace for level. Negative levels render
// as nothing.
func (m Margin) Render(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat(m.Unit(), level)
}

// Strip removes line's leading whitespace.
func (m Margin) Strip(line string) string {
	return strings.TrimLeft(line, " \t")
}

// Indent prepends the margin of text's level shifted by levels. The text
// keeps its own leading whitespace, so margin-free text lands exactly at
// the given level.
func (m Margin) Indent(text string, levels int) string {
	return m.Render(m.Level(text)+levels) + text
}
