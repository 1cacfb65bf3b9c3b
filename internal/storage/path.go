package storage

import (
	"errors"
	"strings"
)

// Separator is the backend path separator.
const Separator = "/"

const schemeDelim = "://"

// Resolve maps a client-facing path onto root.
//
// A path that already carries root's scheme (or, for scheme-less roots, that
// already lies under root) is returned unchanged. Anything else is joined to
// root with exactly one separator. ".." segments are not interpreted.
func Resolve(root, relative string) string {
	if isAbsolute(root, relative) {
		return relative
	}

	base := strings.TrimRight(root, Separator)
	rel := strings.TrimLeft(relative, Separator)
	if rel == "" {
		if base == "" {
			return Separator
		}
		return base
	}
	return base + Separator + rel
}

func isAbsolute(root, p string) bool {
	if s := scheme(root); s != "" {
		return strings.HasPrefix(p, s+schemeDelim)
	}
	base := strings.TrimRight(root, Separator)
	if base == "" {
		return false
	}
	return p == base || strings.HasPrefix(p, base+Separator)
}

func scheme(s string) string {
	i := strings.Index(s, schemeDelim)
	if i <= 0 || strings.Contains(s[:i], Separator) {
		return ""
	}
	return s[:i]
}

// Join appends path elements to base, keeping one separator between them.
// Empty elements are skipped.
func Join(base string, elems ...string) string {
	out := base
	for _, e := range elems {
		e = strings.Trim(e, Separator)
		if e == "" {
			continue
		}
		out = strings.TrimRight(out, Separator) + Separator + e
	}
	return out
}

// Location is a backend-absolute path split into its parts.
type Location struct {
	Scheme    string
	Authority string
	Path      string
}

// String reassembles the location.
func (l Location) String() string {
	if l.Scheme == "" {
		return l.Path
	}
	return l.Scheme + schemeDelim + l.Authority + l.Path
}

// Split breaks a backend-absolute path into scheme, authority and native
// path. The native path always starts with a separator. No percent-decoding
// is done, so file names are passed to drivers byte for byte.
func Split(abs string) (Location, error) {
	if abs == "" {
		return Location{}, errors.New("storage: empty path")
	}

	s := scheme(abs)
	if s == "" {
		return Location{Path: Separator + strings.TrimLeft(abs, Separator)}, nil
	}

	rest := abs[len(s)+len(schemeDelim):]
	authority, p := rest, Separator
	if i := strings.Index(rest, Separator); i >= 0 {
		authority, p = rest[:i], rest[i:]
	}
	return Location{Scheme: s, Authority: authority, Path: p}, nil
}

// Resolver resolves client paths against a fixed backend root.
type Resolver struct {
	root string
}

// NewResolver validates root once, at configuration time.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: empty backend root")
	}
	return &Resolver{root: root}, nil
}

// Resolve returns the backend-absolute form of p.
func (r *Resolver) Resolve(p string) string {
	return Resolve(r.root, p)
}

// Root returns the configured root.
func (r *Resolver) Root() string {
	return r.root
}

// Scheme returns the root's scheme, or "" for a plain path root.
func (r *Resolver) Scheme() string {
	return scheme(r.root)
}
