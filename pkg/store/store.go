// Package store implements the undo-capable hierarchical value store that
// backs every document edit.
//
// A [Store] owns a tree of tagged value nodes (null, bool, number, string,
// list, map). All reads and writes go through a [Navigator], a cheap cursor
// that records the store age it last observed together with the path it
// addresses. When the store has been mutated since, the navigator silently
// re-resolves its path; if the path no longer leads to the same node, every
// further use fails with [ErrStale]. Staleness is detected, never prevented.
//
// Each primitive mutation appends exactly one [Inverse] record to the undo
// log. Inverses are plain data (no closures) so the log can be inspected and
// serialised; [Store.Undo] pops and applies them in LIFO order.
//
// A Store is not safe for concurrent use. It is owned by exactly one
// document model and driven from a single goroutine.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural is the umbrella for internal-invariant violations:
	// kind mismatches, missing navigation edges, and stale navigators.
	ErrStructural = errors.New("store: structural error")

	// ErrTypeMismatch is returned when a node does not hold the requested kind.
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrStructural)

	// ErrNoEdge is returned when a navigation edge (parent, index, key or
	// sibling) does not exist.
	ErrNoEdge = fmt.Errorf("%w: no such edge", ErrStructural)

	// ErrStale is returned when a navigator's path no longer resolves to the
	// node it was created for.
	ErrStale = fmt.Errorf("%w: stale navigator", ErrStructural)
)

// Op names the mutation an [Inverse] performs when applied.
type Op string

const (
	// OpRestore overwrites the scalar at Path with Value.
	OpRestore Op = "restore"
	// OpRemove removes Count items starting at Index from the list at Path.
	OpRemove Op = "remove"
	// OpInsert inserts Values at Index into the list at Path.
	OpInsert Op = "insert"
	// OpSetKey sets Key of the map at Path to Value.
	OpSetKey Op = "set-key"
	// OpClearKey deletes Key from the map at Path.
	OpClearKey Op = "clear-key"
)

// Inverse is a serialisable record of the operation that undoes one
// primitive mutation.
type Inverse struct {
	Op     Op     `json:"op"`
	Path   Path   `json:"path"`
	Index  int    `json:"index,omitempty"`
	Count  int    `json:"count,omitempty"`
	Key    string `json:"key,omitempty"`
	Value  any    `json:"value"`
	Values []any  `json:"values,omitempty"`
}

// Store owns the value tree, the mutation counter and the undo log.
type Store struct {
	root       *node
	age        uint64
	undo       []Inverse
	checkpoint int
}

// New creates a store whose root holds initial. A nil initial value yields
// an empty map root.
func New(initial any) (*Store, error) {
	if initial == nil {
		initial = map[string]any{}
	}
	root, err := fromValue(initial)
	if err != nil {
		return nil, fmt.Errorf("store: new: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns a navigator addressing the root node.
func (s *Store) Root() *Navigator {
	return &Navigator{store: s, age: s.age, node: s.root}
}

// At returns a navigator for path, or an error wrapping [ErrNoEdge] when the
// path does not resolve.
func (s *Store) At(path Path) (*Navigator, error) {
	n, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	p := make(Path, len(path))
	copy(p, path)
	return &Navigator{store: s, age: s.age, path: p, node: n}, nil
}

// Age returns the monotonic mutation counter.
func (s *Store) Age() uint64 { return s.age }

// UndoCount returns the number of inverse records currently on the undo log.
func (s *Store) UndoCount() int { return len(s.undo) }

// Snapshot returns the whole tree as plain Go values.
func (s *Store) Snapshot() any { return toValue(s.root) }

// Journal returns a copy of the undo log, oldest record first.
func (s *Store) Journal() []Inverse {
	out := make([]Inverse, len(s.undo))
	copy(out, s.undo)
	return out
}

// Checkpoint marks the current undo depth so that [Store.UndoToCheckpoint]
// can later discard everything recorded after it.
func (s *Store) Checkpoint() {
	s.checkpoint = len(s.undo)
}

// UndoToCheckpoint undoes every record pushed since the last [Store.Checkpoint].
func (s *Store) UndoToCheckpoint() error {
	return s.UndoTo(s.checkpoint)
}

// UndoTo undoes records until exactly count remain on the log.
func (s *Store) UndoTo(count int) error {
	if count < 0 || count > len(s.undo) {
		return fmt.Errorf("store: undo to %d: log holds %d records", count, len(s.undo))
	}
	return s.Undo(len(s.undo) - count)
}

// Undo pops and applies n inverse records, most recent first. The store age
// advances once for the whole call.
func (s *Store) Undo(n int) error {
	if n < 0 || n > len(s.undo) {
		return fmt.Errorf("store: undo %d: log holds %d records", n, len(s.undo))
	}
	if n == 0 {
		return nil
	}
	for range n {
		inv := s.undo[len(s.undo)-1]
		s.undo = s.undo[:len(s.undo)-1]
		if err := s.apply(inv); err != nil {
			s.age++
			return fmt.Errorf("store: undo %s %s: %w", inv.Op, inv.Path, err)
		}
	}
	if s.checkpoint > len(s.undo) {
		s.checkpoint = len(s.undo)
	}
	s.age++
	return nil
}

// lookup walks path from the root.
func (s *Store) lookup(path Path) (*node, error) {
	cur := s.root
	for i, step := range path {
		next, ok := edge(cur, step)
		if !ok {
			return nil, fmt.Errorf("store: resolve %s at %s: %w", path, path[:i+1], ErrNoEdge)
		}
		cur = next
	}
	return cur, nil
}

func edge(n *node, step Step) (*node, bool) {
	if step.List {
		if n.kind != KindList || step.Index < 0 || step.Index >= len(n.list) {
			return nil, false
		}
		return n.list[step.Index], true
	}
	if n.kind != KindMap {
		return nil, false
	}
	c, ok := n.fields[step.Key]
	return c, ok
}

func (s *Store) record(inv Inverse) {
	s.undo = append(s.undo, inv)
	s.age++
}

// apply performs inv without recording a new inverse.
func (s *Store) apply(inv Inverse) error {
	target, err := s.lookup(inv.Path)
	if err != nil {
		return err
	}
	switch inv.Op {
	case OpRestore:
		src, err := fromValue(inv.Value)
		if err != nil {
			return err
		}
		if !target.kind.IsScalar() || !src.kind.IsScalar() {
			return ErrTypeMismatch
		}
		target.assignScalar(src)
	case OpRemove:
		if target.kind != KindList {
			return ErrTypeMismatch
		}
		if _, err := removeRange(target, inv.Index, inv.Count); err != nil {
			return err
		}
	case OpInsert:
		if target.kind != KindList {
			return ErrTypeMismatch
		}
		nodes, err := nodesFrom(inv.Values)
		if err != nil {
			return err
		}
		if err := insertRange(target, inv.Index, nodes); err != nil {
			return err
		}
	case OpSetKey:
		if target.kind != KindMap {
			return ErrTypeMismatch
		}
		c, err := fromValue(inv.Value)
		if err != nil {
			return err
		}
		setKey(target, inv.Key, c)
	case OpClearKey:
		if target.kind != KindMap {
			return ErrTypeMismatch
		}
		if _, ok := target.fields[inv.Key]; !ok {
			return ErrNoEdge
		}
		clearKey(target, inv.Key)
	default:
		return fmt.Errorf("%w: unknown inverse op %q", ErrStructural, inv.Op)
	}
	return nil
}

func nodesFrom(values []any) ([]*node, error) {
	nodes := make([]*node, 0, len(values))
	for i, v := range values {
		c, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		nodes = append(nodes, c)
	}
	return nodes, nil
}

func insertRange(list *node, at int, nodes []*node) error {
	if at < 0 || at > len(list.list) {
		return fmt.Errorf("insert at %d into list of %d: %w", at, len(list.list), ErrNoEdge)
	}
	for _, c := range nodes {
		c.parent = list
	}
	grown := make([]*node, 0, len(list.list)+len(nodes))
	grown = append(grown, list.list[:at]...)
	grown = append(grown, nodes...)
	grown = append(grown, list.list[at:]...)
	list.list = grown
	return nil
}

// removeRange detaches count children starting at at and returns their
// snapshots.
func removeRange(list *node, at, count int) ([]any, error) {
	if at < 0 || count < 0 || at+count > len(list.list) {
		return nil, fmt.Errorf("remove [%d,%d) from list of %d: %w", at, at+count, len(list.list), ErrNoEdge)
	}
	removed := make([]any, count)
	for i, c := range list.list[at : at+count] {
		removed[i] = c.detach()
	}
	list.list = append(list.list[:at:at], list.list[at+count:]...)
	return removed, nil
}

// setKey installs c under key and returns the snapshot of the previous
// child, if there was one.
func setKey(m *node, key string, c *node) (prior any, had bool) {
	if old, ok := m.fields[key]; ok {
		prior, had = old.detach(), true
	}
	c.parent = m
	m.fields[key] = c
	return prior, had
}

func clearKey(m *node, key string) any {
	old := m.fields[key]
	v := old.detach()
	delete(m.fields, key)
	return v
}
