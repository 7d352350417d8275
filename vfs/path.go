package vfs

import (
	"strings"
)

// Normalize turns any path the host hands us into the canonical
// internal key: forward slashes only, a single leading slash,
// duplicate slashes collapsed, no trailing slash except on the root,
// case folded when the host is case insensitive.
//
// Normalize is idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(p string, caseInsensitive bool) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	p = "/" + strings.Join(out, "/")
	if caseInsensitive {
		p = strings.ToLower(p)
	}
	return p
}

// ToWire converts a display path to the form the FTP server sees:
// forward slashes, case preserved.
func ToWire(displayPath string) string {
	p := strings.ReplaceAll(displayPath, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// FromWire converts a server path to the canonical internal key
func FromWire(wirePath string, caseInsensitive bool) string {
	return Normalize(wirePath, caseInsensitive)
}

// parentOf returns the parent of a normalized or display path.  The
// parent of the root is the root.
func parentOf(p string) string {
	if p == "/" || p == "" {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// baseOf returns the last element of a normalized or display path
func baseOf(p string) string {
	if p == "/" || p == "" {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	return p[i+1:]
}

// joinPath joins a parent display path and a child name
func joinPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}
