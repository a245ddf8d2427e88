// Package hls detects HLS playlists and rewrites their URI references so a
// player fetches every segment and sub-playlist through the stream proxy.
package hls

import (
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/grafana/regexp"
)

// Proxy endpoints the rewritten playlists and catalog responses point at.
const (
	StreamPath = "/api/proxy/stream"
	ImagePath  = "/api/proxy/image"
)

// ContentType is the media type served for rewritten playlists.
const ContentType = "application/vnd.apple.mpegurl"

// manifestSubtypes are the HLS media subtypes, lower-cased.
var manifestSubtypes = map[string]bool{
	"vnd.apple.mpegurl": true,
	"x-mpegurl":         true,
}

// uriAttribute matches a quoted URI attribute inside an #EXT tag.
var uriAttribute = regexp.MustCompile(`(?i)\bURI="([^"]*)"`)

// IsManifest reports whether a response for targetURL with the given
// Content-Type is an HLS playlist rather than a media segment.
func IsManifest(targetURL, contentType string) bool {
	if hasManifestExtension(targetURL) {
		return true
	}
	return IsManifestContentType(contentType)
}

// IsManifestContentType reports whether contentType names an HLS playlist.
func IsManifestContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, err := contenttype.ParseMediaType(contentType)
	if err != nil {
		lower := strings.ToLower(contentType)
		return strings.Contains(lower, "vnd.apple.mpegurl") || strings.Contains(lower, "x-mpegurl")
	}
	return manifestSubtypes[strings.ToLower(mt.Subtype)]
}

func hasManifestExtension(targetURL string) bool {
	p := stripQuery(targetURL)
	if u, err := url.Parse(targetURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".m3u8")
}

// BaseURL returns manifestURL without its query or fragment, truncated after
// the last '/'. Relative playlist entries are appended to it.
func BaseURL(manifestURL string) string {
	s := stripQuery(manifestURL)
	return s[:strings.LastIndex(s, "/")+1]
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// Rewriter turns playlist URI references into stream proxy URLs.
// It holds no per-request state and is safe for concurrent use.
type Rewriter struct {
	prefix         string
	rewriteAttribs bool
}

// NewRewriter creates a Rewriter. publicBaseURL, when non-empty, is the
// absolute origin prefixed to emitted proxy URLs. rewriteAttributes enables
// rewriting of URI="..." attributes (keys, init segments, renditions).
func NewRewriter(publicBaseURL string, rewriteAttributes bool) *Rewriter {
	return &Rewriter{
		prefix:         strings.TrimRight(publicBaseURL, "/") + StreamPath + "?url=",
		rewriteAttribs: rewriteAttributes,
	}
}

// ProxyURL returns the stream proxy URL that fetches target.
func (r *Rewriter) ProxyURL(target string) string {
	return r.prefix + EscapeComponent(target)
}

// IsProxyURL reports whether s already points at the stream proxy.
func (r *Rewriter) IsProxyURL(s string) bool {
	return strings.HasPrefix(s, r.prefix)
}

// Rewrite rewrites every URI line of body, resolving relative references
// against manifestURL. Tag, comment and blank lines are kept byte for byte
// and line order is preserved. Lines that are already proxy URLs are kept,
// so rewriting its own output is a no-op. It returns the new playlist and the
// number of lines rewritten.
func (r *Rewriter) Rewrite(body, manifestURL string) (string, int) {
	base := BaseURL(manifestURL)
	origin, _ := url.Parse(manifestURL)

	lines := strings.Split(body, "\n")
	rewritten := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			if r.rewriteAttribs && strings.HasPrefix(line, "#EXT") {
				lines[i] = r.rewriteAttributes(line, base, origin)
			}
			continue
		}
		ref := strings.TrimSpace(line)
		if ref == "" || r.IsProxyURL(ref) {
			continue
		}
		lines[i] = r.ProxyURL(resolve(ref, base, origin))
		rewritten++
	}
	return strings.Join(lines, "\n"), rewritten
}

func (r *Rewriter) rewriteAttributes(line, base string, origin *url.URL) string {
	return uriAttribute.ReplaceAllStringFunc(line, func(m string) string {
		sub := uriAttribute.FindStringSubmatch(m)
		ref := sub[1]
		if ref == "" || r.IsProxyURL(ref) || hasForeignScheme(ref) {
			return m
		}
		return m[:len(m)-len(ref)-1] + r.ProxyURL(resolve(ref, base, origin)) + `"`
	})
}

// resolve makes ref absolute. Plain relative references are appended to
// base; root- and protocol-relative ones take the playlist's scheme and host.
func resolve(ref, base string, origin *url.URL) string {
	if hasHTTPScheme(ref) {
		return ref
	}
	if strings.HasPrefix(ref, "/") && origin != nil {
		if u, err := url.Parse(ref); err == nil {
			return origin.ResolveReference(u).String()
		}
	}
	return base + ref
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// hasForeignScheme reports whether s carries a non-HTTP scheme such as
// skd:// or data:, which players resolve themselves.
func hasForeignScheme(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https"
}

// EscapeComponent percent-encodes s for use as a query value, encoding
// spaces as %20.
func EscapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
