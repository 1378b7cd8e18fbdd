// Package cortexuri implements the cortex:// addressing scheme: parsing,
// path materialisation, and the directory/resource split described for the
// hierarchical URI filesystem.
package cortexuri

import (
	"path/filepath"
	"strings"

	"cortexmem/internal/cortexerr"
)

const Scheme = "cortex://"

// Dimension is the closed set of top-level namespaces.
type Dimension string

const (
	DimensionSession   Dimension = "session"
	DimensionUser      Dimension = "user"
	DimensionAgent     Dimension = "agent"
	DimensionResources Dimension = "resources"
	DimensionGlobal    Dimension = "global"
)

func validDimension(s string) (Dimension, bool) {
	switch Dimension(s) {
	case DimensionSession, DimensionUser, DimensionAgent, DimensionResources, DimensionGlobal:
		return Dimension(s), true
	default:
		return "", false
	}
}

// URI is a parsed cortex:// address.
type URI struct {
	Dimension   Dimension
	ID          string
	Category    string
	Subcategory string
	Resource    string
	Params      map[string]string
}

// Parse parses a cortex:// string into a URI, following spec.md §4.1's
// segment-count branching rules.
func Parse(s string) (*URI, error) {
	if !strings.HasPrefix(s, Scheme) {
		return nil, cortexerr.Input("invalid scheme in %q", s)
	}
	rest := s[len(Scheme):]

	var query string
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		query = rest[idx+1:]
		rest = rest[:idx]
	}

	if strings.TrimSpace(rest) == "" {
		return nil, cortexerr.Input("empty path in %q", s)
	}

	var segs []string
	for _, seg := range strings.Split(rest, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return nil, cortexerr.Input("empty path in %q", s)
	}

	dim, ok := validDimension(segs[0])
	if !ok {
		return nil, cortexerr.Input("unknown dimension %q", segs[0])
	}

	u := &URI{Dimension: dim, Params: parseParams(query)}
	if len(segs) >= 2 {
		u.ID = segs[1]
	}
	switch {
	case len(segs) <= 2:
		// dimension alone, or dimension + id; category left empty
		// (dimension root or dimension/id root).
	case len(segs) == 3:
		u.Category = segs[2]
	case len(segs) == 4:
		if strings.Contains(segs[3], ".") {
			u.Category = segs[2]
			u.Resource = segs[3]
		} else {
			u.Category = segs[2]
			u.Subcategory = segs[3]
		}
	default: // len(segs) >= 5
		u.Category = segs[2]
		u.Subcategory = segs[3]
		u.Resource = strings.Join(segs[4:], "/")
	}

	return u, nil
}

func parseParams(query string) map[string]string {
	params := map[string]string{}
	if query == "" {
		return params
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		} else {
			params[kv[0]] = ""
		}
	}
	return params
}

// String renders the URI back into cortex:// form.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(string(u.Dimension))
	if u.ID != "" {
		b.WriteByte('/')
		b.WriteString(u.ID)
	}
	if u.Category != "" {
		b.WriteByte('/')
		b.WriteString(u.Category)
	}
	if u.Subcategory != "" {
		b.WriteByte('/')
		b.WriteString(u.Subcategory)
	}
	if u.Resource != "" {
		b.WriteByte('/')
		b.WriteString(u.Resource)
	}
	if len(u.Params) > 0 {
		b.WriteByte('?')
		first := true
		for k, v := range u.Params {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// ToFilePath materialises the URI into an absolute path under root. It
// never escapes root: the joined path is cleaned with filepath.Clean and
// rejected unless it is root itself or a descendant of it.
func (u *URI) ToFilePath(root string) (string, error) {
	parts := []string{root, string(u.Dimension)}
	if u.ID != "" {
		parts = append(parts, u.ID)
	}
	if u.Category != "" {
		parts = append(parts, u.Category)
	}
	if u.Subcategory != "" {
		parts = append(parts, u.Subcategory)
	}
	if u.Resource != "" {
		parts = append(parts, u.Resource)
	}
	p := filepath.Clean(filepath.Join(parts...))
	cleanRoot := filepath.Clean(root)
	if p != cleanRoot && !strings.HasPrefix(p, cleanRoot+string(filepath.Separator)) {
		return "", cortexerr.Input("path traversal escapes tenant root: %s", p)
	}
	return p, nil
}

// DirectoryURI returns the URI of the directory containing this URI's
// resource: if Resource is set, it is dropped; otherwise the URI is
// already a directory and is returned unchanged.
func (u *URI) DirectoryURI() *URI {
	if u.Resource == "" {
		cp := *u
		return &cp
	}
	cp := *u
	cp.Resource = ""
	return &cp
}

// WithResource returns a copy of u with Resource set, used to build
// children of a directory URI.
func (u *URI) WithResource(resource string) *URI {
	cp := *u
	cp.Resource = resource
	return &cp
}

// Child descends one path segment into u, filling whichever positional
// field (ID, Category, Subcategory, Resource) is next empty. Used by the
// sync engine to walk a filesystem listing without re-parsing strings.
func (u *URI) Child(name string) *URI {
	cp := *u
	switch {
	case cp.ID == "":
		cp.ID = name
	case cp.Category == "":
		cp.Category = name
	case cp.Subcategory == "":
		cp.Subcategory = name
	case cp.Resource == "":
		cp.Resource = name
	default:
		cp.Resource = cp.Resource + "/" + name
	}
	return &cp
}

// IsSessionTimelineRoot reports whether u is exactly a session's timeline
// directory (cortex://session/<id>/timeline), not a subdirectory of it —
// the boundary at which timeline layers are generated.
func (u *URI) IsSessionTimelineRoot() bool {
	return u.Dimension == DimensionSession && u.Category == "timeline" && u.Subcategory == "" && u.Resource == ""
}

