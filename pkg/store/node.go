package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a store node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the lower-case name of k.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsScalar reports whether k is one of the leaf kinds.
func (k Kind) IsScalar() bool {
	return k <= KindString
}

// node is the tagged variant backing every value in a [Store]. Containers
// own their children; parent is a non-owning back-reference that is only
// consulted for detach bookkeeping.
type node struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	list   []*node
	fields map[string]*node
	parent *node
}

// Step is one edge of a [Path]: either a map key or a list index.
type Step struct {
	Key   string `json:"key,omitempty"`
	Index int    `json:"index,omitempty"`
	List  bool   `json:"list,omitempty"`
}

// Path addresses a node from the store root.
type Path []Step

// String renders p as a slash-separated path, e.g. "/lines/3".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		if s.List {
			b.WriteString(strconv.Itoa(s.Index))
		} else {
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

func (p Path) child(s Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// fromValue converts a plain Go value into a detached node tree.
func fromValue(v any) (*node, error) {
	switch x := v.(type) {
	case nil:
		return &node{kind: KindNull}, nil
	case bool:
		return &node{kind: KindBool, b: x}, nil
	case int:
		return &node{kind: KindNumber, num: float64(x)}, nil
	case int64:
		return &node{kind: KindNumber, num: float64(x)}, nil
	case float64:
		return &node{kind: KindNumber, num: x}, nil
	case string:
		return &node{kind: KindString, str: x}, nil
	case []string:
		n := &node{kind: KindList, list: make([]*node, 0, len(x))}
		for _, s := range x {
			n.list = append(n.list, &node{kind: KindString, str: s, parent: n})
		}
		return n, nil
	case []any:
		n := &node{kind: KindList, list: make([]*node, 0, len(x))}
		for i, item := range x {
			c, err := fromValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			c.parent = n
			n.list = append(n.list, c)
		}
		return n, nil
	case map[string]any:
		n := &node{kind: KindMap, fields: make(map[string]*node, len(x))}
		for k, item := range x {
			c, err := fromValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			c.parent = n
			n.fields[k] = c
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: unsupported value type %T", ErrTypeMismatch, v)
}

// toValue serialises n into plain Go values. Lists become []any, maps become
// map[string]any and numbers are float64.
func toValue(n *node) any {
	switch n.kind {
	case KindBool:
		return n.b
	case KindNumber:
		return n.num
	case KindString:
		return n.str
	case KindList:
		out := make([]any, len(n.list))
		for i, c := range n.list {
			out[i] = toValue(c)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(n.fields))
		for k, c := range n.fields {
			out[k] = toValue(c)
		}
		return out
	}
	return nil
}

func (n *node) sortedKeys() []string {
	keys := make([]string, 0, len(n.fields))
	for k := range n.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assignScalar overwrites n in place with the scalar held by src. The node
// identity is preserved so navigators addressing it stay valid.
func (n *node) assignScalar(src *node) {
	n.kind = src.kind
	n.b = src.b
	n.num = src.num
	n.str = src.str
}

// detach snapshots n and clears its parent link. The snapshot is taken
// first because reads after detachment are undefined.
func (n *node) detach() any {
	v := toValue(n)
	n.parent = nil
	return v
}
