package protocol

import "strings"

// ParsedQuery is the result of applying the three-step query grammar of
// spec §6 to a raw query string.
type ParsedQuery struct {
	// BookmarkPath is the resolved root prefix if the query carried a
	// "name:" prefix matching a known bookmark, else "".
	BookmarkPath string
	// Extension, without its leading dot, if the query carried a
	// "*.EXT " prefix, else nil.
	Extension *string
	// Search is the remaining substring to match, unchanged case (the
	// Index Store case-folds it).
	Search string
}

// ResolveBookmark looks up a bookmark by name and returns its root path.
type ResolveBookmark func(name string) (path string, ok bool)

// ParseQuery applies spec §6's query syntax:
//  1. If the query contains ':' and the prefix before it names a known
//     bookmark, strip the prefix and narrow to that bookmark's root.
//  2. If the remaining query begins with "*.EXT " (extension glob followed
//     by whitespace), strip it and record the extension filter.
//  3. What remains is the substring to match; an empty remainder
//     enumerates.
func ParseQuery(query string, resolve ResolveBookmark) ParsedQuery {
	q := query
	var result ParsedQuery

	if idx := strings.IndexByte(q, ':'); idx >= 0 {
		name := q[:idx]
		if path, ok := resolve(name); ok {
			result.BookmarkPath = path
			q = q[idx+1:]
		}
	}

	if strings.HasPrefix(q, "*.") {
		rest := q[2:]
		sp := strings.IndexAny(rest, " \t")
		if sp > 0 {
			ext := rest[:sp]
			if ext != "" && !strings.ContainsAny(ext, "*/\\") {
				result.Extension = &ext
				q = strings.TrimLeft(rest[sp+1:], " \t")
			}
		}
	}

	result.Search = q
	return result
}
