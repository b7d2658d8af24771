// Package pathutil normalizes and matches blob-store paths: glob-to-regex
// compilation, prefix scoping, and the two normalization conventions
// (storage-path vs file-path) spec §4.2 distinguishes.
package pathutil

import (
	"regexp"
	"strings"
)

// CompileGlob compiles a glob pattern to a regular expression matcher.
// "*" becomes ".*", "?" becomes ".", and every other regex metacharacter in
// the pattern is escaped before compilation (spec §4.2).
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// MatchGlob reports whether path matches pattern under CompileGlob's rules.
func MatchGlob(pattern, path string) (bool, error) {
	re, err := CompileGlob(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(path), nil
}

// NormalizePrefix enforces the trailing-"/" convention: a non-empty prefix
// always ends in exactly one "/"; an empty prefix stays empty.
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimRight(prefix, "/") + "/"
}

// ApplyPrefix joins a scope prefix and a relative path under the
// trailing-"/" convention.
func ApplyPrefix(prefix, path string) string {
	p := NormalizePrefix(prefix)
	return p + strings.TrimLeft(path, "/")
}

// StripPrefix removes a normalized prefix from path, if present.
func StripPrefix(prefix, path string) string {
	p := NormalizePrefix(prefix)
	if p == "" {
		return path
	}
	return strings.TrimPrefix(path, p)
}

// NormalizeStoragePath collapses duplicate slashes and removes a trailing
// slash. It does not touch a leading slash — storage paths may be rooted.
func NormalizeStoragePath(path string) string {
	return collapseSlashes(strings.TrimRight(path, "/"))
}

// NormalizeFilePath additionally strips a leading slash, for paths that will
// be joined under a local filesystem root.
func NormalizeFilePath(path string) string {
	return strings.TrimLeft(NormalizeStoragePath(path), "/")
}

func collapseSlashes(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsSafe rejects paths containing traversal segments ("..", "./") or
// URL-encoded traversal ("%2e%2e"), after normalization. Blob-store
// backends must call this before ever touching the filesystem/bucket.
func IsSafe(path string) bool {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%2f") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}
