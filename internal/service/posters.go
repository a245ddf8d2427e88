package service

import "animebite-proxy/internal/hls"

// RewritePosters walks a decoded JSON value and replaces every string under a
// key named "poster", at any depth, with an image proxy URL. Maps and slices
// are modified in place; the same value is returned.
func RewritePosters(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if s, ok := child.(string); ok && k == "poster" {
				t[k] = ImageProxyURL(s)
				continue
			}
			t[k] = RewritePosters(child)
		}
	case []any:
		for i, child := range t {
			t[i] = RewritePosters(child)
		}
	}
	return v
}

// ImageProxyURL returns the image proxy URL for src. Empty strings are kept.
func ImageProxyURL(src string) string {
	if src == "" {
		return src
	}
	return hls.ImagePath + "?url=" + hls.EscapeComponent(src)
}
