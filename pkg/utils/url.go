package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL reduces u to scheme://host/path with the query kept and the
// fragment and user info dropped.
func NormalizeURL(u *url.URL) string {
	n := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	return n.String()
}

// SameSite reports whether target lives under base (same scheme and host,
// path prefixed by base's path).
func SameSite(base, target *url.URL) bool {
	if !strings.EqualFold(base.Scheme, target.Scheme) || !strings.EqualFold(base.Host, target.Host) {
		return false
	}
	return strings.HasPrefix(target.Path, strings.TrimSuffix(base.Path, "/"))
}
