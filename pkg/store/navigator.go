package store

import (
	"fmt"
	"math"
)

// Navigator is a revalidating cursor into a [Store]. It is cheap to create
// and meant to be short-lived. A navigator is valid while its recorded age
// matches the store's age, or while its path still resolves to the very same
// node; otherwise every method fails with an error wrapping [ErrStale].
type Navigator struct {
	store *Store
	age   uint64
	path  Path
	node  *node
}

// Path returns a copy of the path this navigator addresses.
func (n *Navigator) Path() Path {
	p := make(Path, len(n.path))
	copy(p, n.path)
	return p
}

// resolve returns the addressed node after revalidating against the store.
func (n *Navigator) resolve() (*node, error) {
	if n.age == n.store.age {
		return n.node, nil
	}
	cur, err := n.store.lookup(n.path)
	if err != nil || cur != n.node {
		return nil, fmt.Errorf("store: navigator at %s: %w", n.path, ErrStale)
	}
	n.age = n.store.age
	return cur, nil
}

func (n *Navigator) expect(k Kind) (*node, error) {
	nd, err := n.resolve()
	if err != nil {
		return nil, err
	}
	if nd.kind != k {
		return nil, fmt.Errorf("store: %s is %s, want %s: %w", n.path, nd.kind, k, ErrTypeMismatch)
	}
	return nd, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Kind returns the kind of the addressed node.
func (n *Navigator) Kind() (Kind, error) {
	nd, err := n.resolve()
	if err != nil {
		return KindNull, err
	}
	return nd.kind, nil
}

// Number reads a number node.
func (n *Navigator) Number() (float64, error) {
	nd, err := n.expect(KindNumber)
	if err != nil {
		return 0, err
	}
	return nd.num, nil
}

// Int reads a number node that holds an integral value.
func (n *Navigator) Int() (int, error) {
	f, err := n.Number()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("store: %s holds non-integral %v: %w", n.path, f, ErrTypeMismatch)
	}
	return int(f), nil
}

// String reads a string node.
func (n *Navigator) String() (string, error) {
	nd, err := n.expect(KindString)
	if err != nil {
		return "", err
	}
	return nd.str, nil
}

// Bool reads a boolean node.
func (n *Navigator) Bool() (bool, error) {
	nd, err := n.expect(KindBool)
	if err != nil {
		return false, err
	}
	return nd.b, nil
}

// Len returns the number of items of a list node.
func (n *Navigator) Len() (int, error) {
	nd, err := n.expect(KindList)
	if err != nil {
		return 0, err
	}
	return len(nd.list), nil
}

// Keys returns the sorted keys of a map node.
func (n *Navigator) Keys() ([]string, error) {
	nd, err := n.expect(KindMap)
	if err != nil {
		return nil, err
	}
	return nd.sortedKeys(), nil
}

// Has reports whether a map node holds key.
func (n *Navigator) Has(key string) (bool, error) {
	nd, err := n.expect(KindMap)
	if err != nil {
		return false, err
	}
	_, ok := nd.fields[key]
	return ok, nil
}

// Value returns a plain-value snapshot of the addressed subtree.
func (n *Navigator) Value() (any, error) {
	nd, err := n.resolve()
	if err != nil {
		return nil, err
	}
	return toValue(nd), nil
}

// ── Navigation ───────────────────────────────────────────────────────────────

// Parent moves to the container holding the addressed node.
func (n *Navigator) Parent() (*Navigator, error) {
	nd, err := n.resolve()
	if err != nil {
		return nil, err
	}
	if len(n.path) == 0 || nd.parent == nil {
		return nil, fmt.Errorf("store: parent of %s: %w", n.path, ErrNoEdge)
	}
	return &Navigator{store: n.store, age: n.age, path: n.Path()[:len(n.path)-1], node: nd.parent}, nil
}

// Index moves to item i of a list node.
func (n *Navigator) Index(i int) (*Navigator, error) {
	return n.step(Step{Index: i, List: true})
}

// Key moves to the child stored under key in a map node.
func (n *Navigator) Key(key string) (*Navigator, error) {
	return n.step(Step{Key: key})
}

// Sibling moves delta items along the list that holds the addressed node.
func (n *Navigator) Sibling(delta int) (*Navigator, error) {
	if _, err := n.resolve(); err != nil {
		return nil, err
	}
	if len(n.path) == 0 || !n.path[len(n.path)-1].List {
		return nil, fmt.Errorf("store: sibling of %s: %w", n.path, ErrNoEdge)
	}
	parent, err := n.Parent()
	if err != nil {
		return nil, err
	}
	return parent.Index(n.path[len(n.path)-1].Index + delta)
}

func (n *Navigator) step(s Step) (*Navigator, error) {
	nd, err := n.resolve()
	if err != nil {
		return nil, err
	}
	c, ok := edge(nd, s)
	if !ok {
		return nil, fmt.Errorf("store: %s%s: %w", n.path, Path{s}, ErrNoEdge)
	}
	return &Navigator{store: n.store, age: n.age, path: n.path.child(s), node: c}, nil
}

// ── Writes ───────────────────────────────────────────────────────────────────

// Set overwrites the addressed scalar with v, which must itself be a scalar
// (nil, bool, number or string). The inverse restores the prior value.
func (n *Navigator) Set(v any) error {
	nd, err := n.resolve()
	if err != nil {
		return err
	}
	src, err := fromValue(v)
	if err != nil {
		return err
	}
	if !nd.kind.IsScalar() || !src.kind.IsScalar() {
		return fmt.Errorf("store: set %s (%s) to %s: %w", n.path, nd.kind, src.kind, ErrTypeMismatch)
	}
	prior := toValue(nd)
	nd.assignScalar(src)
	n.store.record(Inverse{Op: OpRestore, Path: n.Path(), Value: prior})
	n.age = n.store.age
	return nil
}

// Insert inserts values at index i of the addressed list. The inverse
// removes exactly the inserted items.
func (n *Navigator) Insert(i int, values ...any) error {
	nd, err := n.expect(KindList)
	if err != nil {
		return err
	}
	nodes, err := nodesFrom(values)
	if err != nil {
		return fmt.Errorf("store: insert into %s: %w", n.path, err)
	}
	if err := insertRange(nd, i, nodes); err != nil {
		return fmt.Errorf("store: %s: %w", n.path, err)
	}
	n.store.record(Inverse{Op: OpRemove, Path: n.Path(), Index: i, Count: len(nodes)})
	n.age = n.store.age
	return nil
}

// Remove removes count items starting at index i of the addressed list. The
// inverse re-inserts the exact removed items.
func (n *Navigator) Remove(i, count int) error {
	nd, err := n.expect(KindList)
	if err != nil {
		return err
	}
	removed, err := removeRange(nd, i, count)
	if err != nil {
		return fmt.Errorf("store: %s: %w", n.path, err)
	}
	n.store.record(Inverse{Op: OpInsert, Path: n.Path(), Index: i, Values: removed})
	n.age = n.store.age
	return nil
}

// SetKey stores v under key in the addressed map. The inverse restores the
// previous child when one existed and clears the key otherwise.
func (n *Navigator) SetKey(key string, v any) error {
	nd, err := n.expect(KindMap)
	if err != nil {
		return err
	}
	c, err := fromValue(v)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", n.path, key, err)
	}
	prior, had := setKey(nd, key, c)
	inv := Inverse{Op: OpClearKey, Path: n.Path(), Key: key}
	if had {
		inv = Inverse{Op: OpSetKey, Path: n.Path(), Key: key, Value: prior}
	}
	n.store.record(inv)
	n.age = n.store.age
	return nil
}

// ClearKey deletes key from the addressed map. Clearing an absent key fails
// with [ErrNoEdge].
func (n *Navigator) ClearKey(key string) error {
	nd, err := n.expect(KindMap)
	if err != nil {
		return err
	}
	if _, ok := nd.fields[key]; !ok {
		return fmt.Errorf("store: clear %s/%s: %w", n.path, key, ErrNoEdge)
	}
	prior := clearKey(nd, key)
	n.store.record(Inverse{Op: OpSetKey, Path: n.Path(), Key: key, Value: prior})
	n.age = n.store.age
	return nil
}
