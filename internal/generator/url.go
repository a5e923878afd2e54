package generator

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalURL standardizes a URL so the frontier can dedupe on it.
// It lowercases the scheme and host, removes default ports and fragments,
// sorts query parameters, and normalizes the trailing slash (the root path
// keeps "/", every other path drops it).
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RegistrableDomain returns the eTLD+1 for a host, stripping any port.
// Hosts without a public suffix (localhost, IPs, test fixtures) fall back to
// the bare host so same-site checks still work against httptest servers.
func RegistrableDomain(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameSite reports whether two URLs share a registrable domain.
func SameSite(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return RegistrableDomain(ua.Host) == RegistrableDomain(ub.Host)
}

// ResolveRef resolves href against base and returns the absolute form, or ""
// when the reference is unusable (javascript:, mailto:, empty).
func ResolveRef(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

var nonHTMLExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".ppt": {}, ".pptx": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".rar": {}, ".7z": {}, ".jpg": {}, ".jpeg": {}, ".png": {},
	".gif": {}, ".bmp": {}, ".svg": {}, ".ico": {}, ".mp3": {},
	".mp4": {}, ".avi": {}, ".mov": {}, ".wav": {}, ".css": {},
	".js": {}, ".json": {}, ".xml": {}, ".woff": {}, ".woff2": {},
}

// LikelyHTML filters out URLs whose path extension marks them as assets so
// the frontier never spends budget fetching them.
func LikelyHTML(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return true
	}
	_, nonHTML := nonHTMLExtensions[ext]
	return !nonHTML
}
