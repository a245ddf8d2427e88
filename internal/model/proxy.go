// Package model defines request-scoped types shared by the proxy layers.
package model

import (
	"io"
	"net/http"
)

// StreamRequest is an inbound call to the stream proxy.
type StreamRequest struct {
	TargetURL string
	Range     string // inbound Range header, empty when absent
	IfRange   string
}

// UpstreamResponse is a fetched upstream resource. It is consumed once:
// either forwarded as-is or transformed, then closed by the caller.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorResponse is the uniform JSON error body returned by every route.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail returns an ErrorResponse carrying msg.
func Fail(msg string) ErrorResponse {
	return ErrorResponse{Success: false, Error: msg}
}
