package store

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// NormalizeURL drops query and fragment and trims trailing slashes, keeping
// a single "/" for the root of a host.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return trimURLString(rawURL)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""

	s := u.String()
	if u.Path == "" || u.Path == "/" {
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		return s
	}
	return strings.TrimRight(s, "/")
}

func trimURLString(s string) string {
	if i := strings.IndexAny(s, "?#"); i != -1 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if s == "" {
		return "/"
	}
	return s
}

// FolderKey returns the path prefix a page belongs to. A trailing slash
// marks the whole path as a folder; otherwise the last segment is dropped.
//
//	"/products/123"                    -> "/products/"
//	"/products/"                       -> "/products/"
//	"https://example.com/api/users/42" -> "/api/users/"
func FolderKey(rawURL string) string {
	folder := strings.HasSuffix(rawURL, "/")

	path := NormalizeURL(rawURL)
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	} else if i := strings.Index(path, "://"); i != -1 {
		rest := path[i+3:]
		j := strings.Index(rest, "/")
		if j == -1 {
			return "/"
		}
		path = rest[j:]
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if !folder {
		if len(segments) <= 1 {
			return "/"
		}
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/") + "/"
}

// HashKey turns a scope key into a short filesystem and redis safe name:
// the first 16 hex characters of its SHA-256, or "global" for "".
func HashKey(key string) string {
	if key == "" {
		return "global"
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
