// Package service implements the stream, image and catalog proxy logic.
package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrMissingURL is returned when the url parameter is absent or blank.
	ErrMissingURL = errors.New("url parameter is required")
	// ErrInvalidURL is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("url parameter must be an absolute http(s) URL")
	// ErrManifestTooLarge is returned when a playlist exceeds maxManifestBytes.
	ErrManifestTooLarge = errors.New("playlist exceeds size limit")
	// ErrPartialManifest is returned when the CDN only serves part of a playlist.
	ErrPartialManifest = errors.New("upstream returned a partial playlist")
	// ErrNoSources is returned when the catalog lists no playable sources for an episode.
	ErrNoSources = errors.New("no streaming sources available")
)

// UpstreamStatusError reports a non-2xx upstream response.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ParamError reports a missing required query parameter. Message, when set,
// replaces the default "<name> is required".
type ParamError struct {
	Name    string
	Message string
}

func (e *ParamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Name + " is required"
}

// ValidateTarget checks the url parameter of a proxy request and returns it trimmed.
func ValidateTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return raw, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
