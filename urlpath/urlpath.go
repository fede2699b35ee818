// Package urlpath parses the trailing portion of a resource URL into a
// typed sequence of (property, key) segments.
package urlpath

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed marks structurally invalid paths. Callers should answer
// these with a 400-class failure instead of attempting resolution.
var ErrMalformed = errors.New("malformed resource path")

// Segment is one hop of a parsed path. The first segment names the
// resource and optionally carries the root instance key; each later
// segment names a property and optionally carries the key of one element
// of that property's collection.
type Segment struct {
	Name string
	Key  string
}

// Path is the parsed representation of a request's trailing URL segments.
type Path struct {
	Segments []Segment
}

// Parse splits the raw URL remainder after the resource name (already
// percent-decoded) into ordered segments. Empty segments from doubled or
// trailing slashes are dropped. The first remainder token is the root
// instance key; the rest regroup into consecutive (property, key) pairs,
// with a trailing unpaired token naming a whole collection.
func Parse(resource, remainder string) (Path, error) {
	if resource == "" {
		return Path{}, errors.Wrap(ErrMalformed, "missing resource name")
	}
	if strings.Contains(resource, "/") {
		return Path{}, errors.Wrapf(ErrMalformed, "resource name '%s' contains a separator", resource)
	}

	var tokens []string
	for _, tok := range strings.Split(remainder, "/") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	root := Segment{Name: resource}
	if len(tokens) > 0 {
		root.Key = tokens[0]
		tokens = tokens[1:]
	}

	segments := []Segment{root}
	for i := 0; i < len(tokens); i += 2 {
		seg := Segment{Name: tokens[i]}
		if i+1 < len(tokens) {
			seg.Key = tokens[i+1]
		}
		segments = append(segments, seg)
	}
	return Path{Segments: segments}, nil
}

// Root returns the resource segment.
func (p Path) Root() Segment {
	return p.Segments[0]
}

// Tail returns the property segments after the root.
func (p Path) Tail() []Segment {
	return p.Segments[1:]
}

// Last returns the terminal segment, whose shape determines dispatcher
// branch selection.
func (p Path) Last() Segment {
	return p.Segments[len(p.Segments)-1]
}

// IsRootOnly reports whether the path addresses the resource itself with
// no drill-down.
func (p Path) IsRootOnly() bool {
	return len(p.Segments) == 1
}

// Dotted joins the tail property names with dots, the form the schema
// tree's FindByPath expects.
func (p Path) Dotted() string {
	names := make([]string, 0, len(p.Segments)-1)
	for _, seg := range p.Tail() {
		names = append(names, seg.Name)
	}
	return strings.Join(names, ".")
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p.Segments {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(seg.Name)
		if seg.Key != "" {
			b.WriteByte('/')
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}
