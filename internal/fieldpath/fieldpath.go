// Package fieldpath addresses values inside nested JSON-like documents using
// dotted keys with bracketed array indexes, e.g. locations[0].buildings[1].yearBuilt.
package fieldpath

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SegmentKind distinguishes object keys from array indexes.
type SegmentKind int

const (
	KeySegment SegmentKind = iota
	IndexSegment
)

// Segment is one step of a Path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

// Path is a parsed field path.
type Path []Segment

// Key returns a path with one object key appended.
func (p Path) Key(k string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Kind: KeySegment, Key: k})
}

// Index returns a path with one array index appended.
func (p Path) Index(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Kind: IndexSegment, Index: i})
}

// Last returns the final object key in the path, skipping trailing indexes.
func (p Path) Last() string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Kind == KeySegment {
			return p[i].Key
		}
	}
	return ""
}

// String renders the path in dotted/bracketed form. Parse(p.String()) yields p.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		switch s.Kind {
		case KeySegment:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.Key)
		case IndexSegment:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Parse tokenizes a dotted/bracketed path. Keys may not be empty and may not
// contain '.', '[' or ']'; indexes must be non-negative decimal integers.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, eris.New("fieldpath: empty path")
	}

	var p Path
	i := 0
	expectKey := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, eris.Errorf("fieldpath: unterminated index in %q", s)
			}
			digits := s[i+1 : i+end]
			if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
				return nil, eris.Errorf("fieldpath: invalid index %q in %q", digits, s)
			}
			n, err := strconv.Atoi(digits)
			if err != nil {
				return nil, eris.Wrapf(err, "fieldpath: index %q in %q", digits, s)
			}
			if expectKey {
				return nil, eris.Errorf("fieldpath: index without key in %q", s)
			}
			p = append(p, Segment{Kind: IndexSegment, Index: n})
			i += end + 1
			expectKey = false
		case c == '.':
			if expectKey {
				return nil, eris.Errorf("fieldpath: empty key in %q", s)
			}
			i++
			expectKey = true
			if i == len(s) {
				return nil, eris.Errorf("fieldpath: trailing dot in %q", s)
			}
		case c == ']':
			return nil, eris.Errorf("fieldpath: unexpected ']' in %q", s)
		default:
			if !expectKey {
				return nil, eris.Errorf("fieldpath: missing '.' before key in %q", s)
			}
			end := strings.IndexAny(s[i:], ".[]")
			if end < 0 {
				end = len(s) - i
			}
			p = append(p, Segment{Kind: KeySegment, Key: s[i : i+end]})
			i += end
			expectKey = false
		}
	}
	return p, nil
}

// Get reads the value at path. The boolean is false when any step is missing
// or has the wrong container type.
func Get(root any, path string) (any, bool) {
	p, err := Parse(path)
	if err != nil {
		return nil, false
	}
	return p.Get(root)
}

// Get reads the value at p.
func (p Path) Get(root any) (any, bool) {
	cur := root
	for _, s := range p {
		switch s.Kind {
		case KeySegment:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[s.Key]
			if !ok {
				return nil, false
			}
			cur = v
		case IndexSegment:
			arr, ok := cur.([]any)
			if !ok || s.Index >= len(arr) {
				return nil, false
			}
			cur = arr[s.Index]
		}
	}
	return cur, true
}

// Set writes v at path inside root, creating intermediate objects and arrays
// on demand. Arrays shorter than the target index are padded with empty
// objects. Get(root, path) afterwards returns v.
func Set(root map[string]any, path string, v any) error {
	p, err := Parse(path)
	if err != nil {
		return err
	}
	return p.Set(root, v)
}

// Set writes v at p inside root.
func (p Path) Set(root map[string]any, v any) error {
	if root == nil {
		return eris.New("fieldpath: nil root")
	}
	if len(p) == 0 || p[0].Kind != KeySegment {
		return eris.Errorf("fieldpath: path %q must start with a key", p.String())
	}
	_, err := setIn(root, p, v)
	return err
}

func setIn(cur any, p Path, v any) (any, error) {
	if len(p) == 0 {
		return v, nil
	}
	s := p[0]
	switch s.Kind {
	case KeySegment:
		var m map[string]any
		switch c := cur.(type) {
		case nil:
			m = make(map[string]any)
		case map[string]any:
			m = c
		default:
			return nil, eris.Errorf("fieldpath: cannot set key %q on %T", s.Key, cur)
		}
		child, err := setIn(m[s.Key], p[1:], v)
		if err != nil {
			return nil, err
		}
		m[s.Key] = child
		return m, nil
	default:
		var arr []any
		switch c := cur.(type) {
		case nil:
		case []any:
			arr = c
		default:
			return nil, eris.Errorf("fieldpath: cannot index %d into %T", s.Index, cur)
		}
		for len(arr) <= s.Index {
			arr = append(arr, map[string]any{})
		}
		child, err := setIn(arr[s.Index], p[1:], v)
		if err != nil {
			return nil, err
		}
		arr[s.Index] = child
		return arr, nil
	}
}
